package handler

// Route type
type Route string

const (
	// RouteGetStories get one page of stories, from the network or the local store
	RouteGetStories Route = "getStories"
	// RouteSubmitStory upload a new story or queue it while offline
	RouteSubmitStory Route = "submitStory"
	// RouteDeleteStory delete a story from this device
	RouteDeleteStory Route = "deleteStory"
	// RouteSearch search the local store
	RouteSearch Route = "search"
	// RouteSubscribe register a push subscription
	RouteSubscribe Route = "subscribe"
	// RouteUnsubscribe release the push subscription
	RouteUnsubscribe Route = "unsubscribe"
)
