package main

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func testSongs(n int) []Song {
	songs := make([]Song, n)
	for i := range songs {
		songs[i] = Song{
			ID:      i,
			Answers: []string{fmt.Sprintf("song %d", i)},
		}
	}
	return songs
}

func testConfig() *Config {
	return &Config{}
}

func TestMatchesAnswer(t *testing.T) {
	answers := []string{"다이너마이트", "Dynamite"}

	tests := []struct {
		guess string
		want  bool
	}{
		{"Dynamite", true},
		{"dynamite", true},
		{" dy na mite ", true},
		{"다이너마이트", true},
		{"다이너 마이트", true},
		{"dynamites", false},
		{"dyna", false},
		{"", false},
		{"   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.guess, func(t *testing.T) {
			if got := matchesAnswer(tt.guess, answers); got != tt.want {
				t.Errorf("matchesAnswer(%q) = %v, want %v", tt.guess, got, tt.want)
			}
		})
	}
}

func TestMatchesAnswerNoAnswers(t *testing.T) {
	if matchesAnswer("anything", nil) {
		t.Error("Expected no match against an empty answer set")
	}
}

func TestStartEmptyCatalog(t *testing.T) {
	game := newGame(nil, false)

	state := game.Start(testConfig())
	if state.Phase != PhaseFinished.String() {
		t.Errorf("Expected finished phase over empty catalog, got %q", state.Phase)
	}
	if _, err := game.CurrentSong(); !errors.Is(err, errNoActiveSong) {
		t.Errorf("Expected errNoActiveSong, got %v", err)
	}
}

func TestSessionVisitsEverySongOnce(t *testing.T) {
	const n = 10
	cfg := testConfig()
	game := newGame(testSongs(n), false)

	game.Start(cfg)

	visited := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		song, err := game.CurrentSong()
		if err != nil {
			t.Fatalf("CurrentSong failed on song %d: %v", i, err)
		}
		if visited[song.ID] {
			t.Fatalf("Song %d visited twice", song.ID)
		}
		visited[song.ID] = true

		if i < n-1 {
			if _, err := game.Next(cfg); err != nil {
				t.Fatalf("Next failed on song %d: %v", i, err)
			}
		}
	}

	if len(visited) != n {
		t.Errorf("Visited %d songs, want %d", len(visited), n)
	}

	state, err := game.Next(cfg)
	if err != nil {
		t.Fatalf("Final Next failed: %v", err)
	}
	if state.Phase != PhaseFinished.String() {
		t.Errorf("Expected finished after last song, got %q", state.Phase)
	}
}

func TestNextWhileIdle(t *testing.T) {
	game := newGame(testSongs(3), false)

	if _, err := game.Next(testConfig()); !errors.Is(err, errInvalidTransition) {
		t.Errorf("Expected errInvalidTransition, got %v", err)
	}
}

func TestGuessWinnerSlots(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	game.Start(cfg)

	for i := 0; i < maxWinners; i++ {
		result := game.SubmitGuess(cfg, fmt.Sprintf("player%d", i), "answer")
		if !result.Correct {
			t.Fatalf("Guess %d rejected: %+v", i, result)
		}
	}

	// Fourth correct guess bounces off the slot limit.
	result := game.SubmitGuess(cfg, "player4", "answer")
	if result.Correct {
		t.Error("Fourth guess should be rejected")
	}
	if winners := game.Winners(); len(winners) != maxWinners {
		t.Errorf("Expected %d winners, got %d", maxWinners, len(winners))
	}
}

func TestGuessDuplicateWinner(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	game.Start(cfg)

	if result := game.SubmitGuess(cfg, "alice", "answer"); !result.Correct {
		t.Fatalf("First guess rejected: %+v", result)
	}
	if result := game.SubmitGuess(cfg, "alice", "answer"); result.Correct {
		t.Error("Second correct guess by same player should be rejected")
	}

	winners := game.Winners()
	if len(winners) != 1 || winners[0] != "alice" {
		t.Errorf("Expected winners [alice], got %v", winners)
	}

	results := game.Results()
	if len(results) != 1 || results[0].Score != 1 {
		t.Errorf("Expected alice with 1 point, got %+v", results)
	}
}

func TestGuessEmptyIsNoise(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	game.Start(cfg)

	for _, guess := range []string{"", "   ", "\t"} {
		if result := game.SubmitGuess(cfg, "alice", guess); result.Correct {
			t.Errorf("Empty guess %q accepted", guess)
		}
	}
	if len(game.Winners()) != 0 {
		t.Error("Empty guesses must not record winners")
	}
}

func TestGuessWrongAnswer(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	game.Start(cfg)

	result := game.SubmitGuess(cfg, "alice", "wrong")
	if result.Correct {
		t.Error("Wrong answer accepted")
	}
	if len(game.Results()) != 0 {
		t.Error("Wrong answer must not create a player")
	}
}

func TestRevealGatesGuesses(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	game.Start(cfg)

	song, winners, err := game.RevealAnswer()
	if err != nil {
		t.Fatalf("RevealAnswer failed: %v", err)
	}
	if song.ID != 0 || len(winners) != 0 {
		t.Errorf("Unexpected reveal payload: %+v %v", song, winners)
	}

	state := game.State()
	if !state.ShowingAnswer {
		t.Error("Expected showing_answer after reveal")
	}

	// Correctness is irrelevant while revealing.
	result := game.SubmitGuess(cfg, "alice", "answer")
	if result.Correct {
		t.Error("Guess accepted during reveal")
	}
	if result.Message != "answer reveal in progress" {
		t.Errorf("Unexpected rejection message: %q", result.Message)
	}
}

func TestRevealAnswerWhileIdle(t *testing.T) {
	game := newGame(testSongs(1), false)

	if _, _, err := game.RevealAnswer(); !errors.Is(err, errNoActiveSong) {
		t.Errorf("Expected errNoActiveSong, got %v", err)
	}
}

func TestNextClearsPerSongState(t *testing.T) {
	cfg := testConfig()
	game := newGame(testSongs(2), false)
	game.Start(cfg)

	song, _ := game.CurrentSong()
	game.SubmitGuess(cfg, "alice", song.Answers[0])
	game.ShowHint()
	game.RevealAnswer()

	state, err := game.Next(cfg)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if state.Phase != PhasePlaying.String() {
		t.Errorf("Expected playing after advance, got %q", state.Phase)
	}
	if len(state.Winners) != 0 {
		t.Errorf("Winners not cleared on advance: %v", state.Winners)
	}
	if state.HintRevealed {
		t.Error("Hint flag not cleared on advance")
	}

	// Alice can score again on the new song.
	song, _ = game.CurrentSong()
	if result := game.SubmitGuess(cfg, "alice", song.Answers[0]); !result.Correct {
		t.Errorf("Guess on next song rejected: %+v", result)
	}
	if results := game.Results(); results[0].Score != 2 {
		t.Errorf("Expected accumulated score 2, got %+v", results)
	}
}

func TestShowHint(t *testing.T) {
	cfg := testConfig()
	game := newGame(testSongs(1), false)

	if game.ShowHint() {
		t.Error("Hint shown while idle")
	}

	game.Start(cfg)
	if !game.ShowHint() {
		t.Error("Hint not shown while playing")
	}
	// Idempotent.
	if !game.ShowHint() {
		t.Error("Repeated ShowHint flipped the flag")
	}
}

func TestFinishedAcceptsNothing(t *testing.T) {
	cfg := testConfig()
	game := newGame(testSongs(1), false)
	game.Start(cfg)

	if _, err := game.Next(cfg); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if state := game.State(); state.Phase != PhaseFinished.String() {
		t.Fatalf("Expected finished, got %q", state.Phase)
	}

	if result := game.SubmitGuess(cfg, "alice", "song 0"); result.Correct {
		t.Error("Guess accepted after finish")
	}
	if game.ShowHint() {
		t.Error("Hint shown after finish")
	}
	if _, err := game.Next(cfg); !errors.Is(err, errInvalidTransition) {
		t.Errorf("Expected errInvalidTransition after finish, got %v", err)
	}
}

func TestResultsSortedWithStableTies(t *testing.T) {
	game := newGame(nil, false)

	game.mu.Lock()
	game.awardLocked("alice", 1)
	game.awardLocked("bob", 1)
	game.awardLocked("carol", 3)
	game.mu.Unlock()

	results := game.Results()
	want := []string{"carol", "alice", "bob"}
	for i, name := range want {
		if results[i].Username != name {
			t.Errorf("results[%d] = %q, want %q", i, results[i].Username, name)
		}
	}
}

func TestResetScores(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	game.Start(cfg)
	game.SubmitGuess(cfg, "alice", "answer")

	game.ResetScores()

	if results := game.Results(); len(results) != 0 {
		t.Errorf("Expected empty results after reset, got %+v", results)
	}
	if winners := game.Winners(); len(winners) != 0 {
		t.Errorf("Expected empty winners after reset, got %v", winners)
	}
}

func TestCarryScoresPolicy(t *testing.T) {
	cfg := testConfig()

	fresh := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	fresh.Start(cfg)
	fresh.SubmitGuess(cfg, "alice", "answer")
	fresh.Start(cfg)
	if len(fresh.Results()) != 0 {
		t.Error("Scores survived restart without carry-scores")
	}

	carried := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, true)
	carried.Start(cfg)
	carried.SubmitGuess(cfg, "alice", "answer")
	carried.Start(cfg)
	results := carried.Results()
	if len(results) != 1 || results[0].Score != 1 {
		t.Errorf("Scores lost across restart with carry-scores: %+v", results)
	}
}

func TestReplaceCatalogForcesIdle(t *testing.T) {
	cfg := testConfig()
	game := newGame(testSongs(5), false)
	game.Start(cfg)
	game.SubmitGuess(cfg, "alice", "song 0")

	game.ReplaceCatalog(testSongs(2))

	state := game.State()
	if state.Phase != PhaseIdle.String() {
		t.Errorf("Expected idle after catalog reload, got %q", state.Phase)
	}
	if len(state.PlayOrder) != 0 {
		t.Errorf("Expected cleared play order, got %v", state.PlayOrder)
	}
	if state.TotalSongs != 2 {
		t.Errorf("Expected new catalog size 2, got %d", state.TotalSongs)
	}
}

func TestStateProgress(t *testing.T) {
	cfg := testConfig()
	game := newGame(testSongs(3), false)

	if state := game.State(); state.CurrentProgress != 0 || state.CurrentSongID != -1 {
		t.Errorf("Unexpected idle state: %+v", state)
	}

	game.Start(cfg)
	state := game.State()
	if state.CurrentProgress != 1 {
		t.Errorf("Expected progress 1 while playing, got %d", state.CurrentProgress)
	}
	if state.TotalSongs != 3 {
		t.Errorf("Expected 3 total songs, got %d", state.TotalSongs)
	}

	game.Next(cfg)
	game.Next(cfg)
	game.Next(cfg)
	state = game.State()
	if state.Phase != PhaseFinished.String() {
		t.Fatalf("Expected finished, got %q", state.Phase)
	}
	if state.CurrentProgress != 3 || state.PlayedCount != 3 {
		t.Errorf("Expected progress 3 after finish, got %d/%d", state.CurrentProgress, state.PlayedCount)
	}
}

// A storm of concurrent correct guesses must never overshoot the slot
// limit, and every recorded winner must have been scored.
func TestConcurrentGuesses(t *testing.T) {
	cfg := testConfig()
	game := newGame([]Song{{ID: 0, Answers: []string{"answer"}}}, false)
	game.Start(cfg)

	const guessers = 64
	var wg sync.WaitGroup
	wg.Add(guessers)
	for i := 0; i < guessers; i++ {
		go func(i int) {
			defer wg.Done()
			game.SubmitGuess(cfg, fmt.Sprintf("player%d", i), "answer")
		}(i)
	}
	wg.Wait()

	winners := game.Winners()
	if len(winners) != maxWinners {
		t.Fatalf("Expected exactly %d winners, got %d", maxWinners, len(winners))
	}

	unique := make(map[string]bool, len(winners))
	for _, w := range winners {
		if unique[w] {
			t.Errorf("Winner %q recorded twice", w)
		}
		unique[w] = true
	}

	// Scoreboard and winner list were updated as one step.
	total := 0
	for _, p := range game.Results() {
		total += p.Score
	}
	if total != maxWinners {
		t.Errorf("Expected %d total points, got %d", maxWinners, total)
	}
}
