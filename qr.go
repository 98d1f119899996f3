package main

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// serveGameQR renders a QR code the host can show on stream, pointing
// viewers at the quiz page. Uses the configured public URL when set,
// otherwise derives one from the request.
func serveGameQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		target := cfg.gameURL

		if target == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				scheme = proto
			}

			// We are at .../api/game/qr; point the code at the root page.
			path := strings.TrimSuffix(r.URL.Path, "/api/game/qr")
			if path == "" {
				path = "/"
			}

			target = scheme + "://" + r.Host + path
		}

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
