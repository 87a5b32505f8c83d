package story

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Submission is what a page hands over when a story is created. It is either a
// FormSubmission or a FieldSubmission and gets resolved once by Prepare.
type Submission interface {
	Prepare() (*Payload, error)
	isSubmission()
}

// Payload is a resolved submission: a multipart body plus the record to keep locally.
type Payload struct {
	ContentType string
	Body        []byte
	Story       Story
}

// FormSubmission carries an already encoded multipart body.
type FormSubmission struct {
	ContentType string
	Body        []byte
	// Title is not part of the upload form, it only labels the local record.
	Title string
}

// FieldSubmission carries the individual fields of a new story.
type FieldSubmission struct {
	Title         string
	Description   string
	Photo         []byte
	PhotoName     string
	PhotoMimeType string
	Location      *Location
}

func (FormSubmission) isSubmission()  {}
func (FieldSubmission) isSubmission() {}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (f FormSubmission) Prepare() (*Payload, error) {
	if len(f.Body) == 0 {
		return nil, NewValidationError("form", "must not be empty")
	}
	s, err := storyFromForm(f.ContentType, f.Body)
	if err != nil {
		return nil, err
	}
	s.Title = f.Title
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Payload{ContentType: f.ContentType, Body: f.Body, Story: s}, nil
}

func (f FieldSubmission) Prepare() (*Payload, error) {
	s := Story{
		Title:       f.Title,
		Description: f.Description,
		Location:    f.Location,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(f.Photo) == 0 {
		return nil, NewValidationError("photo", "must not be empty")
	}

	mimeType := f.PhotoMimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(f.Photo)
	}
	name := f.PhotoName
	if name == "" {
		name = "photo"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("description", f.Description); err != nil {
		return nil, errors.Wrap(err, "failed to write description field")
	}
	part, err := w.CreateFormFile("photo", name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create photo part")
	}
	if _, err := part.Write(f.Photo); err != nil {
		return nil, errors.Wrap(err, "failed to write photo part")
	}
	if f.Location != nil {
		if err := w.WriteField("lat", strconv.FormatFloat(f.Location.Lat, 'f', -1, 64)); err != nil {
			return nil, errors.Wrap(err, "failed to write lat field")
		}
		if err := w.WriteField("lon", strconv.FormatFloat(f.Location.Lon, 'f', -1, 64)); err != nil {
			return nil, errors.Wrap(err, "failed to write lon field")
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to close multipart writer")
	}

	s.PhotoData = dataURL(mimeType, f.Photo)
	return &Payload{ContentType: w.FormDataContentType(), Body: buf.Bytes(), Story: s}, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// storyFromForm reads the fields back out of a prebuilt form so the local copy matches the upload.
func storyFromForm(contentType string, body []byte) (Story, error) {
	var s Story
	idx := strings.Index(contentType, "boundary=")
	if !strings.HasPrefix(contentType, "multipart/form-data") || idx < 0 {
		return s, NewValidationError("form", "must be multipart/form-data")
	}
	boundary := strings.Trim(contentType[idx+len("boundary="):], `"`)
	form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(32 << 20)
	if err != nil {
		return s, NewValidationError("form", err.Error())
	}
	defer func() { _ = form.RemoveAll() }()

	if v := form.Value["description"]; len(v) > 0 {
		s.Description = v[0]
	}
	lat, latOK := formFloat(form.Value["lat"])
	lon, lonOK := formFloat(form.Value["lon"])
	if latOK && lonOK {
		s.Location = &Location{Lat: lat, Lon: lon}
	}
	if len(form.File["photo"]) == 0 {
		return s, NewValidationError("photo", "must not be empty")
	}
	fh := form.File["photo"][0]
	f, err := fh.Open()
	if err != nil {
		return s, errors.Wrap(err, "failed to open photo part")
	}
	defer f.Close()
	photo, err := io.ReadAll(f)
	if err != nil {
		return s, errors.Wrap(err, "failed to read photo part")
	}
	s.PhotoData = dataURL(fh.Header.Get("Content-Type"), photo)
	return s, nil
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func formFloat(v []string) (float64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(v[0], 64)
	return f, err == nil
}

// Resubmission rebuilds the upload of a story kept locally, e.g. one created while offline.
func Resubmission(s Story) (FieldSubmission, error) {
	mimeType, photo, err := ParseDataURL(s.PhotoData)
	if err != nil {
		return FieldSubmission{}, err
	}
	return FieldSubmission{
		Title:         s.Title,
		Description:   s.Description,
		Photo:         photo,
		PhotoMimeType: mimeType,
		Location:      s.Location,
	}, nil
}

// ParseDataURL decodes a base64 data url as produced for offline photos.
func ParseDataURL(v string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(v, "data:")
	if !ok {
		return "", nil, NewValidationError("photo", "must be a data url")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, NewValidationError("photo", "must be a data url")
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, NewValidationError("photo", "must be base64 encoded")
	}
	photo, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, NewValidationError("photo", err.Error())
	}
	return mimeType, photo, nil
}
