package transcription

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

func newServer(t *testing.T, transcribe http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/recordings/call.webm", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("AUDIO-BYTES"))
	})
	mux.HandleFunc("/v1/audio/transcriptions", transcribe)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Transcribe(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-large", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "AUDIO-BYTES", string(data))
		assert.Equal(t, "call.webm", hdr.Filename)

		_, _ = w.Write([]byte(`{"text":"  hello everyone  "}`))
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "whisper-large", Language: "en"}, nil)
	text, err := c.Transcribe(context.Background(), srv.URL+"/recordings/call.webm?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, "hello everyone", text)
}

func TestClient_TranscribeErrors(t *testing.T) {
	tests := []struct {
		name      string
		url       func(base string) string
		handler   http.HandlerFunc
		code      mwerrors.Code
		transient bool
	}{
		{
			name:      "no recording reference",
			url:       func(string) string { return "" },
			code:      mwerrors.CodeRecordingUnavailable,
			transient: true,
		},
		{
			name:      "recording missing",
			url:       func(b string) string { return b + "/recordings/missing.webm" },
			code:      mwerrors.CodeRecordingUnavailable,
			transient: true,
		},
		{
			name: "provider overloaded",
			url:  func(b string) string { return b + "/recordings/call.webm" },
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			code:      mwerrors.CodeProviderUnavailable,
			transient: true,
		},
		{
			name: "empty transcript",
			url:  func(b string) string { return b + "/recordings/call.webm" },
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				_, _ = w.Write([]byte(`{"text":"   "}`))
			},
			code:      mwerrors.CodeEmptyOutput,
			transient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.handler
			if h == nil {
				h = func(w http.ResponseWriter, r *http.Request) { t.Error("transcription endpoint should not be called") }
			}
			srv := newServer(t, h)

			_, err := NewClient(Config{BaseURL: srv.URL}, nil).Transcribe(context.Background(), tt.url(srv.URL))
			require.Error(t, err)
			var pe *mwerrors.ProcessingError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.transient, mwerrors.IsTransient(err))
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "a.mp4", fileName("https://cdn/x/a.mp4?token=1"))
	assert.Equal(t, "recording", fileName(""))
}
