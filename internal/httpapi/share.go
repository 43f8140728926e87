package httpapi

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// twitterCardURL rewrites a Cloudinary delivery URL with the
// transformations for Twitter's large summary card (2:1, padded, auto
// quality/format). Non-Cloudinary URLs pass through untouched.
func twitterCardURL(imageURL string) string {
	if !strings.Contains(imageURL, "res.cloudinary.com") {
		return imageURL
	}
	parts := strings.SplitN(imageURL, "/upload/", 2)
	if len(parts) != 2 {
		return imageURL
	}
	return parts[0] + "/upload/w_1200,h_600,c_pad,b_black,q_auto:best,f_auto/" + parts[1]
}

var shareTmpl = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Check out this AI-generated meme!</title>

    <meta name="twitter:card" content="summary_large_image">
    <meta name="twitter:title" content="Check out this AI-generated meme!">
    <meta name="twitter:description" content="Created with the AI meme generator">
    <meta name="twitter:image" content="{{.ImageURL}}">
    <meta name="twitter:image:alt" content="AI-generated meme">

    <meta property="og:title" content="Check out this AI-generated meme!">
    <meta property="og:type" content="website">
    <meta property="og:url" content="{{.PageURL}}">
    <meta property="og:image" content="{{.ImageURL}}">
    <meta property="og:description" content="Created with the AI meme generator">
</head>
<body style="background:black;color:white;font-family:system-ui,sans-serif;text-align:center">
    <div style="max-width:1200px;margin:0 auto;padding:20px">
        <img src="{{.ImageURL}}" alt="AI-generated meme" style="max-width:100%;border-radius:12px">
        <h1>Check out this AI-generated meme!</h1>
    </div>
</body>
</html>
`))

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memeID")
	art, ok, err := s.store.GetArtifact(r.Context(), id)
	if err != nil {
		s.log.Error("share lookup failed", zap.String("meme_id", id), zap.Error(err))
		s.httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.httpError(w, http.StatusNotFound, "Meme not found")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = shareTmpl.Execute(w, struct {
		ImageURL string
		PageURL  string
	}{
		ImageURL: twitterCardURL(art.ImageURL),
		PageURL:  r.URL.String(),
	})
	if err != nil {
		s.log.Error("share render failed", zap.String("meme_id", id), zap.Error(err))
	}
}
