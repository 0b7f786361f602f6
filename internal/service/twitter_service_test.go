package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twTarget = TwitterTarget{UserID: "42", AccessToken: "token", AccessSecret: "secret"}

type tweetBody struct {
	Text  string `json:"text"`
	Media *struct {
		MediaIDs []string `json:"media_ids"`
	} `json:"media"`
}

func TestTwitterPublish_MediaDownloadFailureFallsBackToText(t *testing.T) {
	var tweets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken.jpg":
			w.WriteHeader(http.StatusInternalServerError)
		case "/2/tweets":
			tweets.Add(1)
			assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "OAuth "))
			var body tweetBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello world", body.Text)
			assert.Nil(t, body.Media)
			writeJSON(w, http.StatusCreated, `{"data":{"id":"1790","text":"hello world"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	svc := NewTwitterService(testConfig(), testEndpoints(srv.URL))
	out := svc.Publish(context.Background(), twTarget,
		models.Content{ImageURL: srv.URL + "/broken.jpg"}, Caption{Text: "hello world"})

	assert.True(t, out.Success, out.Error)
	assert.Equal(t, "1790", out.RemoteID)
	assert.EqualValues(t, 1, tweets.Load())
}

func TestTwitterPublish_AttachesUploadedImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pic.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
		case "/1.1/media/upload.json":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, _, err := r.FormFile("media")
			require.NoError(t, err)
			writeJSON(w, http.StatusOK, `{"media_id_string":"m1"}`)
		case "/2/tweets":
			var body tweetBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.NotNil(t, body.Media)
			assert.Equal(t, []string{"m1"}, body.Media.MediaIDs)
			writeJSON(w, http.StatusCreated, `{"data":{"id":"1791"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	svc := NewTwitterService(testConfig(), testEndpoints(srv.URL))
	out := svc.Publish(context.Background(), twTarget,
		models.Content{ImageURL: srv.URL + "/pic.png"}, Caption{Text: "with picture"})

	assert.True(t, out.Success, out.Error)
	assert.Equal(t, "1791", out.RemoteID)
}

func TestTwitterPublish_RemovesTemporaryMedia(t *testing.T) {
	tests := []struct {
		name       string
		uploadCode int
		wantMedia  bool
	}{
		{name: "upload succeeds", uploadCode: http.StatusOK, wantMedia: true},
		{name: "upload fails", uploadCode: http.StatusInternalServerError, wantMedia: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := useTempDir(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/pic.png":
					w.Header().Set("Content-Type", "image/png")
					w.Write([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
				case "/1.1/media/upload.json":
					if tt.uploadCode != http.StatusOK {
						writeJSON(w, tt.uploadCode, `{"errors":[{"message":"Internal error"}]}`)
						return
					}
					writeJSON(w, http.StatusOK, `{"media_id_string":"m1"}`)
				case "/2/tweets":
					var body tweetBody
					require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
					assert.Equal(t, tt.wantMedia, body.Media != nil)
					writeJSON(w, http.StatusCreated, `{"data":{"id":"1792"}}`)
				default:
					t.Errorf("unexpected path %s", r.URL.Path)
				}
			}))
			defer srv.Close()

			svc := NewTwitterService(testConfig(), testEndpoints(srv.URL))
			out := svc.Publish(context.Background(), twTarget,
				models.Content{ImageURL: srv.URL + "/pic.png"}, Caption{Text: "cleanup"})

			assert.True(t, out.Success, out.Error)
			assertEmptyDir(t, dir)
		})
	}
}

func TestTwitterPublish_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content models.Content
		caption Caption
		want    string
	}{
		{
			name:    "empty text",
			content: models.Content{},
			caption: Caption{Text: "   "},
			want:    ErrUnsupportedContent.Error(),
		},
		{
			name: "carousel",
			content: models.Content{Items: []models.MediaItem{
				{Type: models.MediaTypeImage, URL: "https://cdn.example.com/1.jpg"},
				{Type: models.MediaTypeImage, URL: "https://cdn.example.com/2.jpg"},
			}},
			caption: Caption{Text: "x"},
			want:    ErrCarouselUnsupported.Error(),
		},
	}

	svc := NewTwitterService(testConfig(), testEndpoints("http://127.0.0.1:1"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := svc.Publish(context.Background(), twTarget, tt.content, tt.caption)
			assert.False(t, out.Success)
			assert.Contains(t, out.Error, tt.want)
		})
	}
}

func TestTwitterPublish_APIErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"title":"Forbidden","detail":"You are not allowed to create a Tweet with duplicate content.","status":403}`)
	}))
	defer srv.Close()

	svc := NewTwitterService(testConfig(), testEndpoints(srv.URL))
	out := svc.Publish(context.Background(), twTarget, models.Content{}, Caption{Text: "again"})

	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "duplicate content")
}

func TestTwitterMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/users/me", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"data":{"id":"42","username":"crossposter"}}`)
	}))
	defer srv.Close()

	svc := NewTwitterService(testConfig(), testEndpoints(srv.URL))
	id, username, err := svc.Me(context.Background(), "token", "secret")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "crossposter", username)
}
