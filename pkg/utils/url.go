package utils

import (
	"net/url"
)

// IsValidURL reports whether str is an absolute http or https url with a host.
func IsValidURL(str string) bool {
	u, err := url.Parse(str)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
