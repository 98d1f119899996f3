package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// serveJSON writes payload with the given status, and logs the serve
// the way every other handler does.
func serveJSON(cfg *Config, errs chan<- error, w http.ResponseWriter, r *http.Request, status int, payload any) {
	startTime := time.Now()

	data, err := json.Marshal(payload)
	if err != nil {
		errs <- err
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	written, err := w.Write(data)
	if err != nil {
		errs <- err

		return
	}

	logf(cfg, "SERVE: %s %s (%s) to %s in %s",
		r.Method,
		r.URL.Path,
		humanReadableSize(int64(written)),
		realIP(r),
		time.Since(startTime).Round(time.Microsecond),
	)
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, errNoActiveSong), errors.Is(err, errCatalogNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func serveEngineError(cfg *Config, errs chan<- error, w http.ResponseWriter, r *http.Request, err error) {
	serveJSON(cfg, errs, w, r, errStatus(err), map[string]string{
		"detail": err.Error(),
	})
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("nomat v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveHealth(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "song quiz api",
		})
	}
}

func serveSongs(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		serveJSON(cfg, errs, w, r, http.StatusOK, game.Songs())
	}
}

func serveSongByID(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id, err := strconv.Atoi(p.ByName("id"))
		if err != nil {
			serveJSON(cfg, errs, w, r, http.StatusBadRequest, map[string]string{
				"detail": "invalid song id",
			})
			return
		}

		song, err := game.SongByID(id)
		if err != nil {
			serveJSON(cfg, errs, w, r, http.StatusNotFound, map[string]string{
				"detail": "Song not found",
			})
			return
		}

		serveJSON(cfg, errs, w, r, http.StatusOK, song)
	}
}

// serveCurrentSong exposes everything a client needs to play the clip,
// and nothing it could use to cheat: the answers stay server-side
// until the reveal.
func serveCurrentSong(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		song, err := game.CurrentSong()
		if err != nil {
			serveEngineError(cfg, errs, w, r, err)
			return
		}

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"id":          song.ID,
			"youtube_url": song.MediaURL,
			"genre":       song.Genre,
			"hint":        song.Hint,
			"artist":      song.Artist,
			"start_time":  song.StartTime,
		})
	}
}

// serveCurrentSongAnswer reveals the answers and winners. Querying
// this page is how the host reveals the song, so the engine flips to
// the revealing phase as a side effect and further guesses are gated.
func serveCurrentSongAnswer(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		song, winners, err := game.RevealAnswer()
		if err != nil {
			serveEngineError(cfg, errs, w, r, err)
			return
		}

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"id":          song.ID,
			"answers":     song.Answers,
			"youtube_url": song.MediaURL,
			"artist":      song.Artist,
			"genre":       song.Genre,
			"hint":        song.Hint,
			"start_time":  song.StartTime,
			"winner":      strings.Join(winners, ", "),
		})
	}
}

func serveWinner(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		winners := game.Winners()

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"winner":       strings.Join(winners, ", "),
			"winner_count": len(winners),
		})
	}
}

func serveStartGame(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		state := game.Start(cfg)

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"message": "Game started",
			"state":   state,
		})
	}
}

func serveNextSong(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		state, err := game.Next(cfg)
		if err != nil {
			serveEngineError(cfg, errs, w, r, err)
			return
		}

		message := "Next song"
		if state.Phase == PhaseFinished.String() {
			message = "Game finished"
		}

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"message": message,
			"state":   state,
		})
	}
}

func serveShowHint(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		revealed := game.ShowHint()

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"message":   "Hint shown",
			"show_hint": revealed,
		})
	}
}

// serveCheckAnswer injects a guess through the same pipeline chat
// events use, for local play and for testing the catalog.
func serveCheckAnswer(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		query := r.URL.Query()
		username := query.Get("username")
		answer := query.Get("answer")

		if username == "" {
			serveJSON(cfg, errs, w, r, http.StatusBadRequest, map[string]string{
				"detail": "username is required",
			})
			return
		}

		serveJSON(cfg, errs, w, r, http.StatusOK, game.SubmitGuess(cfg, username, answer))
	}
}

func serveResults(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		serveJSON(cfg, errs, w, r, http.StatusOK, game.Results())
	}
}

func serveParticipants(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		players := game.Results()

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"total_count": len(players),
			"players":     players,
		})
	}
}

func serveState(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		serveJSON(cfg, errs, w, r, http.StatusOK, game.State())
	}
}

type loadCsvRequest struct {
	Filename string `json:"filename"`
}

// serveLoadCsv loads a new catalog and swaps it in. The parse happens
// before the swap, outside the game lock, so a broken file never
// leaves a half-replaced catalog behind. A successful reload resets
// the session to idle.
func serveLoadCsv(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req loadCsvRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
			serveJSON(cfg, errs, w, r, http.StatusBadRequest, map[string]string{
				"detail": "filename is required",
			})
			return
		}

		path := req.Filename
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(cfg.catalog), path)
		}

		songs, err := loadCatalog(path)
		if err != nil {
			if errors.Is(err, errCatalogNotFound) {
				serveJSON(cfg, errs, w, r, http.StatusNotFound, map[string]string{
					"detail": fmt.Sprintf("CSV file not found: %s", req.Filename),
				})
				return
			}
			serveEngineError(cfg, errs, w, r, err)
			return
		}

		game.ReplaceCatalog(songs)
		logf(cfg, "SONGS: Loaded %d songs from %s", len(songs), path)

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"message":    fmt.Sprintf("Loaded %d songs", len(songs)),
			"song_count": len(songs),
			"filename":   req.Filename,
		})
	}
}

func serveResetScores(cfg *Config, game *Game, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		game.ResetScores()
		logf(cfg, "GAMES: Scores reset")

		serveJSON(cfg, errs, w, r, http.StatusOK, map[string]any{
			"message": "Scores reset",
			"players": []Player{},
		})
	}
}

// registerQuizAPI wires every engine operation onto the router.
func registerQuizAPI(cfg *Config, game *Game, mux *httprouter.Router, errs chan<- error) {
	prefix := cfg.prefix

	mux.GET(prefix+"/api/health", serveHealth(cfg, errs))
	mux.GET(prefix+"/api/songs", serveSongs(cfg, game, errs))
	mux.GET(prefix+"/api/songs/:id", serveSongByID(cfg, game, errs))
	mux.GET(prefix+"/api/game/current-song", serveCurrentSong(cfg, game, errs))
	mux.GET(prefix+"/api/game/current-song/answer", serveCurrentSongAnswer(cfg, game, errs))
	mux.GET(prefix+"/api/game/winner", serveWinner(cfg, game, errs))
	mux.GET(prefix+"/api/game/results", serveResults(cfg, game, errs))
	mux.GET(prefix+"/api/game/participants", serveParticipants(cfg, game, errs))
	mux.GET(prefix+"/api/game/state", serveState(cfg, game, errs))
	mux.GET(prefix+"/api/game/qr", serveGameQR(cfg))

	mux.POST(prefix+"/api/game/start", serveStartGame(cfg, game, errs))
	mux.POST(prefix+"/api/game/next", serveNextSong(cfg, game, errs))
	mux.POST(prefix+"/api/game/show-hint", serveShowHint(cfg, game, errs))
	mux.POST(prefix+"/api/game/check-answer", serveCheckAnswer(cfg, game, errs))
	mux.POST(prefix+"/api/game/load-csv", serveLoadCsv(cfg, game, errs))
	mux.POST(prefix+"/api/game/reset-scores", serveResetScores(cfg, game, errs))
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: nomat v%s", releaseVersion)

	songs, err := loadCatalog(cfg.catalog)
	switch {
	case errors.Is(err, errCatalogNotFound):
		logf(cfg, "SONGS: %s not found, starting with an empty catalog", cfg.catalog)
		songs = []Song{}
	case err != nil:
		return err
	default:
		logf(cfg, "SONGS: Loaded %d songs from %s", len(songs), cfg.catalog)
	}

	game := newGame(songs, cfg.carryScores)

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	errs := make(chan error, 64)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/", serveHomePage(cfg))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	registerQuizAPI(cfg, game, mux, errs)

	if cfg.chatURL != "" {
		gateway := newChatGateway(cfg, game)
		go gateway.run(ctx)
	}

	go func() {
		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
