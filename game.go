// NoMat song quiz engine
//
// A host plays song clips on stream; viewers type guesses into chat.
// The engine owns every piece of mutable game state behind one lock:
// the loaded catalog, the shuffled play order, the per-song winner
// slots, and the scoreboard. Guesses arrive concurrently from the chat
// gateway and from the control panel's API, so acceptance is decided
// and scored as a single atomic step.
//
// Rules:
// - Up to 3 winners per song, ranked by arrival order
// - A name can take at most one winner slot per song
// - Matching ignores case and all whitespace; any accepted answer counts
// - Opening the answer page gates further guesses for that song
// - Reloading the catalog invalidates the running session

package main

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlaying
	PhaseRevealing
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlaying:
		return "playing"
	case PhaseRevealing:
		return "revealing_answer"
	case PhaseFinished:
		return "finished"
	}
	return "unknown"
}

const maxWinners = 3

// Every winner slot is currently worth the same single point. The
// arrival rank is still tracked, so a rank-weighted policy only needs
// this table changed.
var slotPoints = [maxWinners]int{1, 1, 1}

type Player struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// GuessResult reports the outcome of one guess. Rejections are
// results, not errors; chat floods the engine and none of it is
// exceptional.
type GuessResult struct {
	Correct  bool   `json:"is_correct"`
	Username string `json:"username"`
	Answer   string `json:"answer"`
	Message  string `json:"message,omitempty"`
}

// Snapshot is a consistent copy of the session, safe to serialize
// after the lock is released.
type Snapshot struct {
	Phase           string   `json:"phase"`
	IsPlaying       bool     `json:"is_playing"`
	ShowingAnswer   bool     `json:"showing_answer"`
	CurrentSongID   int      `json:"current_song_index"`
	PlayOrder       []int    `json:"song_order"`
	PlayedCount     int      `json:"played_count"`
	TotalSongs      int      `json:"total_songs"`
	CurrentProgress int      `json:"current_progress"`
	HintRevealed    bool     `json:"show_hint"`
	Winners         []string `json:"current_winners"`
	Players         []Player `json:"players"`
}

// Game is the single session instance for the process. All fields are
// guarded by mu as one unit; nothing under the lock touches I/O.
type Game struct {
	mu sync.RWMutex

	songs       []Song
	carryScores bool

	phase     Phase
	playOrder []int
	cursor    int
	winners   []string
	hintShown bool

	players []Player
	byName  map[string]int
}

func newGame(songs []Song, carryScores bool) *Game {
	return &Game{
		songs:       songs,
		carryScores: carryScores,
		byName:      make(map[string]int),
	}
}

// normalizeAnswer is applied to both sides of every comparison, at
// comparison time. Answers are never stored normalized, since the
// reveal page displays them verbatim.
func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// matchesAnswer accepts a guess iff its normalized form equals the
// normalized form of any accepted answer. No substring or fuzzy
// matching.
func matchesAnswer(guess string, answers []string) bool {
	normalized := normalizeAnswer(guess)
	if normalized == "" {
		return false
	}
	for _, answer := range answers {
		if normalizeAnswer(answer) == normalized {
			return true
		}
	}
	return false
}

func (g *Game) active() bool {
	return (g.phase == PhasePlaying || g.phase == PhaseRevealing) &&
		g.cursor >= 0 && g.cursor < len(g.playOrder)
}

// currentSongLocked assumes g.mu is already held.
func (g *Game) currentSongLocked() (Song, bool) {
	if !g.active() {
		return Song{}, false
	}
	return g.songs[g.playOrder[g.cursor]], true
}

// ReplaceCatalog swaps in a freshly loaded catalog. Any in-progress
// session references the old catalog's indices by position, so the
// session is forced back to idle rather than left pointing at stale
// slots. Scores survive the reload.
func (g *Game) ReplaceCatalog(songs []Song) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.songs = songs
	g.phase = PhaseIdle
	g.playOrder = nil
	g.cursor = 0
	g.winners = nil
	g.hintShown = false
}

func (g *Game) Songs() []Song {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Song, len(g.songs))
	copy(out, g.songs)
	return out
}

func (g *Game) SongByID(id int) (Song, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if id < 0 || id >= len(g.songs) {
		return Song{}, errNoActiveSong
	}
	return g.songs[id], nil
}

// Start begins a new session over the currently loaded catalog. An
// empty catalog finishes immediately. Scores reset unless the game was
// configured to carry them across sessions.
func (g *Game) Start(cfg *Config) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.playOrder = newPlayOrder(len(g.songs))
	g.cursor = 0
	g.winners = nil
	g.hintShown = false

	if !g.carryScores {
		g.players = nil
		g.byName = make(map[string]int)
	}

	if len(g.playOrder) == 0 {
		g.phase = PhaseFinished
	} else {
		g.phase = PhasePlaying
	}

	logf(cfg, "GAMES: Started session with %d songs", len(g.playOrder))

	return g.snapshotLocked()
}

// Next advances to the next song in the play order, clearing the
// per-song winner slots and hint flag. Past the last song the session
// finishes.
func (g *Game) Next(cfg *Config) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == PhaseIdle || g.phase == PhaseFinished {
		return Snapshot{}, errInvalidTransition
	}

	g.cursor++
	g.winners = nil
	g.hintShown = false

	if g.cursor >= len(g.playOrder) {
		g.phase = PhaseFinished
		logf(cfg, "GAMES: Session finished after %d songs", len(g.playOrder))
	} else {
		g.phase = PhasePlaying
		logf(cfg, "GAMES: Next song: index %d (%d/%d)",
			g.playOrder[g.cursor], g.cursor+1, len(g.playOrder))
	}

	return g.snapshotLocked(), nil
}

// ShowHint marks the current song's hint as revealed. Idempotent, and
// a no-op outside of active play.
func (g *Game) ShowHint() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == PhasePlaying {
		g.hintShown = true
	}
	return g.hintShown
}

// RevealAnswer returns the current song with its answers and winners.
// Querying the answer is how the host reveals it, so this forces the
// revealing phase as a side effect, gating further guesses.
func (g *Game) RevealAnswer() (Song, []string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	song, ok := g.currentSongLocked()
	if !ok {
		return Song{}, nil, errNoActiveSong
	}

	g.phase = PhaseRevealing

	winners := make([]string, len(g.winners))
	copy(winners, g.winners)
	return song, winners, nil
}

// CurrentSong returns the song being played. Callers decide which
// fields to expose; during play the answers must not be serialized.
func (g *Game) CurrentSong() (Song, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	song, ok := g.currentSongLocked()
	if !ok {
		return Song{}, errNoActiveSong
	}
	return song, nil
}

// SubmitGuess runs the full acceptance pipeline for one guess under
// the lock: slot limit, duplicate winner, empty guess, then answer
// evaluation. Scoring and winner recording happen in the same critical
// section, so no caller can observe one without the other.
func (g *Game) SubmitGuess(cfg *Config, username, text string) GuessResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := GuessResult{Username: username, Answer: text}

	switch g.phase {
	case PhaseRevealing:
		result.Message = "answer reveal in progress"
		return result
	case PhasePlaying:
	default:
		result.Message = "no game in progress"
		return result
	}

	song, ok := g.currentSongLocked()
	if !ok {
		result.Message = "no game in progress"
		return result
	}

	if len(g.winners) >= maxWinners {
		result.Message = "all winner slots are taken"
		return result
	}

	for _, winner := range g.winners {
		if winner == username {
			result.Message = "already answered correctly"
			return result
		}
	}

	if strings.TrimSpace(text) == "" {
		result.Message = "empty guess"
		return result
	}

	if !matchesAnswer(text, song.Answers) {
		return result
	}

	rank := len(g.winners)
	g.awardLocked(username, slotPoints[rank])
	g.winners = append(g.winners, username)

	result.Correct = true
	logf(cfg, "GAMES: %q answered song %d correctly (rank %d): %q",
		username, song.ID, rank+1, text)

	return result
}

// awardLocked adds points to a player, creating the record on first
// score. Assumes g.mu is held.
func (g *Game) awardLocked(username string, points int) {
	if i, ok := g.byName[username]; ok {
		g.players[i].Score += points
		return
	}
	g.byName[username] = len(g.players)
	g.players = append(g.players, Player{Username: username, Score: points})
}

// Results returns players sorted by score descending. The sort is
// stable over insertion order, so ties rank first-created-first.
func (g *Game) Results() []Player {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Player, len(g.players))
	copy(out, g.players)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ResetScores drops every player and the current song's winner slots.
func (g *Game) ResetScores() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.players = nil
	g.byName = make(map[string]int)
	g.winners = nil
}

func (g *Game) Winners() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, len(g.winners))
	copy(out, g.winners)
	return out
}

func (g *Game) State() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.snapshotLocked()
}

// snapshotLocked copies every guarded field into a Snapshot. Assumes
// g.mu is held (read or write).
func (g *Game) snapshotLocked() Snapshot {
	totalSongs := len(g.playOrder)
	if totalSongs == 0 {
		totalSongs = len(g.songs)
	}

	progress := g.cursor
	if g.phase == PhasePlaying || g.phase == PhaseRevealing {
		progress = g.cursor + 1
	}

	currentID := -1
	if g.active() {
		currentID = g.playOrder[g.cursor]
	}

	order := make([]int, len(g.playOrder))
	copy(order, g.playOrder)
	winners := make([]string, len(g.winners))
	copy(winners, g.winners)
	players := make([]Player, len(g.players))
	copy(players, g.players)

	return Snapshot{
		Phase:           g.phase.String(),
		IsPlaying:       g.phase == PhasePlaying,
		ShowingAnswer:   g.phase == PhaseRevealing,
		CurrentSongID:   currentID,
		PlayOrder:       order,
		PlayedCount:     g.cursor,
		TotalSongs:      totalSongs,
		CurrentProgress: progress,
		HintRevealed:    g.hintShown,
		Winners:         winners,
		Players:         players,
	}
}
