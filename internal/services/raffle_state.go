package services

import (
	"fmt"
	"sort"

	"raffle/internal/draw"
	"raffle/internal/models"
)

// RaffleState is the draw/confirm/redraw state machine for one raffle.
// Prizes are drawn from the last (N) to the top prize (1). A drawn candidate
// stays pending until confirmed or rejected; only confirmation excludes a
// participant from later draws.
//
// RaffleState is not safe for concurrent use; the owning session serializes access.
// Every failed operation leaves the state untouched.
type RaffleState struct {
	started      bool
	participants []models.Participant
	config       models.RaffleConfiguration
	winners      []models.PrizeAward
	pending      *models.PrizeAward
}

// RaffleStatus is a read-only snapshot of the state for rendering.
type RaffleStatus struct {
	Started          bool                       `json:"started"`
	Config           models.RaffleConfiguration `json:"config"`
	ParticipantCount int                        `json:"participantCount"`
	EligibleCount    int                        `json:"eligibleCount"`
	ConfirmedCount   int                        `json:"confirmedCount"`
	RemainingPrizes  int                        `json:"remainingPrizes"`
	CurrentPrize     int                        `json:"currentPrize"` // 0 once complete or before start
	Pending          *models.PrizeAward         `json:"pending,omitempty"`
	CanDraw          bool                       `json:"canDraw"`
	CanConfirm       bool                       `json:"canConfirm"`
	CanReject        bool                       `json:"canReject"`
	Complete         bool                       `json:"complete"`
	Winners          []models.PrizeAward        `json:"winners"`
}

// NewRaffleState returns an empty, not yet started raffle.
func NewRaffleState() *RaffleState {
	return &RaffleState{}
}

// Start validates the participants and configuration and resets the raffle.
func (s *RaffleState) Start(participants []models.Participant, cfg models.RaffleConfiguration) error {
	if err := validateStart(participants, cfg); err != nil {
		return err
	}

	pool := make([]models.Participant, len(participants))
	copy(pool, participants)

	s.started = true
	s.participants = pool
	s.config = cfg
	s.winners = nil
	s.pending = nil
	return nil
}

func validateStart(participants []models.Participant, cfg models.RaffleConfiguration) error {
	if len(participants) == 0 {
		return fmt.Errorf("%w: participant list is empty", models.ErrConfiguration)
	}
	if cfg.TotalPrizes < 1 {
		return fmt.Errorf("%w: total prizes must be at least 1, got %d", models.ErrConfiguration, cfg.TotalPrizes)
	}
	if cfg.TotalPrizes > len(participants) {
		return fmt.Errorf("%w: %d prizes requested but only %d participants", models.ErrConfiguration, cfg.TotalPrizes, len(participants))
	}

	seen := make(map[int]bool, len(participants))
	for _, p := range participants {
		if seen[p.OriginalIndex] {
			return fmt.Errorf("%w: duplicate participant row %d", models.ErrConfiguration, p.OriginalIndex)
		}
		seen[p.OriginalIndex] = true

		for _, field := range []string{cfg.PrimaryField, cfg.SecondaryField} {
			if !p.HasField(field) {
				return fmt.Errorf("%w: field %q is not in the participant schema", models.ErrConfiguration, field)
			}
		}
	}
	return nil
}

// DrawNext selects a candidate for the current prize from the eligible pool.
func (s *RaffleState) DrawNext(src draw.RandomSource) (models.PrizeAward, error) {
	switch {
	case !s.started:
		return models.PrizeAward{}, fmt.Errorf("%w: raffle has not been started", models.ErrInvalidState)
	case s.pending != nil:
		return models.PrizeAward{}, fmt.Errorf("%w: already has a pending candidate for prize #%d", models.ErrInvalidState, s.pending.PrizeNumber)
	case s.IsComplete():
		return models.PrizeAward{}, fmt.Errorf("%w: raffle already complete", models.ErrInvalidState)
	}

	eligible := s.eligible()
	if len(eligible) == 0 {
		return models.PrizeAward{}, fmt.Errorf("%w: no participants left for prize #%d", models.ErrExhaustedPool, s.currentPrize())
	}

	selected, err := draw.Select(eligible, src)
	if err != nil {
		return models.PrizeAward{}, err
	}

	award := models.PrizeAward{PrizeNumber: s.currentPrize(), Participant: selected}
	s.pending = &award
	return award, nil
}

// ConfirmCandidate records the pending candidate as the winner of its prize.
func (s *RaffleState) ConfirmCandidate() (models.PrizeAward, error) {
	if s.pending == nil {
		return models.PrizeAward{}, fmt.Errorf("%w: no pending candidate to confirm", models.ErrInvalidState)
	}

	award := *s.pending
	s.winners = append(s.winners, award)
	s.pending = nil
	return award, nil
}

// RejectCandidate discards the pending candidate. The same prize is offered again
// and the rejected participant stays eligible.
func (s *RaffleState) RejectCandidate() (models.PrizeAward, error) {
	if s.pending == nil {
		return models.PrizeAward{}, fmt.Errorf("%w: no pending candidate to reject", models.ErrInvalidState)
	}

	award := *s.pending
	s.pending = nil
	return award, nil
}

// Restart clears winners and the pending candidate, keeping participants and configuration.
func (s *RaffleState) Restart() error {
	if !s.started {
		return fmt.Errorf("%w: raffle has not been started", models.ErrInvalidState)
	}
	s.winners = nil
	s.pending = nil
	return nil
}

func (s *RaffleState) IsComplete() bool {
	return s.started && len(s.winners) == s.config.TotalPrizes
}

func (s *RaffleState) IsStarted() bool {
	return s.started
}

func (s *RaffleState) Config() models.RaffleConfiguration {
	return s.config
}

func (s *RaffleState) ConfirmedCount() int {
	return len(s.winners)
}

// ConfirmedWinners returns winners in confirmation order (worst prize first).
func (s *RaffleState) ConfirmedWinners() []models.PrizeAward {
	out := make([]models.PrizeAward, len(s.winners))
	copy(out, s.winners)
	return out
}

// WinnersByPrize returns winners ordered from prize #1 upwards.
func (s *RaffleState) WinnersByPrize() []models.PrizeAward {
	return SortByPrize(s.winners)
}

func (s *RaffleState) PendingCandidate() (models.PrizeAward, bool) {
	if s.pending == nil {
		return models.PrizeAward{}, false
	}
	return *s.pending, true
}

// RemainingCount is the number of prizes not yet confirmed.
func (s *RaffleState) RemainingCount() int {
	if !s.started {
		return 0
	}
	return s.config.TotalPrizes - len(s.winners)
}

// EligibleCount is the size of the pool the next draw selects from.
func (s *RaffleState) EligibleCount() int {
	return len(s.eligible())
}

// Status builds a snapshot describing which actions are currently legal.
func (s *RaffleState) Status() RaffleStatus {
	st := RaffleStatus{
		Started:          s.started,
		Config:           s.config,
		ParticipantCount: len(s.participants),
		EligibleCount:    s.EligibleCount(),
		ConfirmedCount:   len(s.winners),
		RemainingPrizes:  s.RemainingCount(),
		Complete:         s.IsComplete(),
		Winners:          s.WinnersByPrize(),
	}
	if s.started && !st.Complete {
		st.CurrentPrize = s.currentPrize()
	}
	if p, ok := s.PendingCandidate(); ok {
		st.Pending = &p
		st.CanConfirm = true
		st.CanReject = true
	} else {
		st.CanDraw = s.started && !st.Complete && st.EligibleCount > 0
	}
	return st
}

func (s *RaffleState) currentPrize() int {
	return s.config.TotalPrizes - len(s.winners)
}

func (s *RaffleState) eligible() []models.Participant {
	drawn := make(map[int]bool, len(s.winners))
	for _, w := range s.winners {
		drawn[w.Participant.OriginalIndex] = true
	}

	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if !drawn[p.OriginalIndex] {
			out = append(out, p)
		}
	}
	return out
}

// SortByPrize returns a copy of awards ordered ascending by prize number.
func SortByPrize(awards []models.PrizeAward) []models.PrizeAward {
	out := make([]models.PrizeAward, len(awards))
	copy(out, awards)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PrizeNumber < out[j].PrizeNumber
	})
	return out
}
