package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/logger"

	"raffle/internal/draw"
	"raffle/internal/models"
	"raffle/internal/storage"
	"raffle/internal/tabular"
)

// EventRaffleState is published after every successful change to a session.
const EventRaffleState = "RAFFLE_STATE"

// Publisher receives session events, typically a websocket hub.
type Publisher interface {
	Publish(room, eventType string, payload interface{})
}

// StateEvent is the payload published for EventRaffleState.
type StateEvent struct {
	Action string        `json:"action"`
	Status SessionStatus `json:"status"`
}

// RaffleSession holds the loaded table and raffle state for a single tenant.
type RaffleSession struct {
	mu           sync.Mutex
	Table        *tabular.Table
	State        *RaffleState
	Seed         *int64
	rng          draw.RandomSource
	LastActivity time.Time
}

// SessionStatus is what the host needs to render a session.
type SessionStatus struct {
	RaffleStatus
	Loaded           bool     `json:"loaded"`
	Columns          []string `json:"columns"`
	DefaultPrimary   string   `json:"defaultPrimary,omitempty"`
	DefaultSecondary string   `json:"defaultSecondary,omitempty"`
	Truncated        bool     `json:"truncated"`
	Seeded           bool     `json:"seeded"`
}

// StartRequest configures a raffle run. Empty field names fall back to the
// table's default display columns; a nil Seed draws from a clock-seeded source.
type StartRequest struct {
	TotalPrizes    int    `json:"totalPrizes" form:"totalPrizes"`
	PrimaryField   string `json:"primaryField" form:"primaryField"`
	SecondaryField string `json:"secondaryField" form:"secondaryField"`
	Seed           *int64 `json:"seed" form:"seed"`
}

// ExportFile is an encoded winner list ready to hand to a sink or a download.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type Options struct {
	Loader     *tabular.Loader
	Sink       storage.ExportSink
	Publisher  Publisher
	ExportName string
	// NewSource builds the random source for a session; defaults to draw.NewSource.
	NewSource func(seed *int64) draw.RandomSource
}

// RaffleService manages one independent raffle per tenant.
type RaffleService struct {
	mu       sync.RWMutex
	sessions map[string]*RaffleSession // Key: tenantID

	loader     *tabular.Loader
	sink       storage.ExportSink
	publisher  Publisher
	exportName string
	newSource  func(seed *int64) draw.RandomSource
}

// NewRaffleService creates and initializes a new RaffleService.
func NewRaffleService(opts Options) *RaffleService {
	if opts.Loader == nil {
		opts.Loader = tabular.NewLoader(tabular.DefaultMinColumns, tabular.DefaultMaxParticipants)
	}
	if opts.NewSource == nil {
		opts.NewSource = draw.NewSource
	}
	if opts.ExportName == "" {
		opts.ExportName = tabular.DefaultExportName
	}
	return &RaffleService{
		sessions:   make(map[string]*RaffleSession),
		loader:     opts.Loader,
		sink:       opts.Sink,
		publisher:  opts.Publisher,
		exportName: opts.ExportName,
		newSource:  opts.NewSource,
	}
}

// getSession returns a session for a tenant, creating one if it doesn't exist.
func (s *RaffleService) getSession(tenantID string) *RaffleSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[tenantID]
	if !exists {
		session = &RaffleSession{State: NewRaffleState()}
		s.sessions[tenantID] = session
	}
	session.LastActivity = time.Now()
	return session
}

// mutate runs fn with the session locked and publishes the new status when fn succeeds.
func (s *RaffleService) mutate(tenantID, action string, fn func(*RaffleSession) error) (SessionStatus, error) {
	session := s.getSession(tenantID)

	session.mu.Lock()
	err := fn(session)
	status := session.status()
	session.mu.Unlock()

	if err != nil {
		logger.Infof("Rejected %s for tenant %s: %v", action, tenantID, err)
		return status, err
	}
	if s.publisher != nil {
		s.publisher.Publish(tenantID, EventRaffleState, StateEvent{Action: action, Status: status})
	}
	return status, nil
}

// Status returns the current session snapshot for a tenant.
func (s *RaffleService) Status(tenantID string) SessionStatus {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.status()
}

// LoadParticipants parses an uploaded table and replaces the tenant's participant list.
// Any raffle in progress is discarded. A table that fails validation leaves the session as it was.
func (s *RaffleService) LoadParticipants(tenantID string, r io.Reader, filename string) (SessionStatus, error) {
	return s.mutate(tenantID, "load", func(session *RaffleSession) error {
		format, err := tabular.FormatFromName(filename)
		if err != nil {
			return err
		}
		table, err := s.loader.Load(r, format)
		if err != nil {
			return err
		}

		session.Table = table
		session.State = NewRaffleState()
		session.Seed = nil
		session.rng = nil
		logger.Infof("Loaded %d participants (%d columns) for tenant %s", len(table.Participants), len(table.Columns), tenantID)
		return nil
	})
}

// Start begins a new raffle over the loaded participants.
func (s *RaffleService) Start(tenantID string, req StartRequest) (SessionStatus, error) {
	return s.mutate(tenantID, "start", func(session *RaffleSession) error {
		if session.Table == nil {
			return fmt.Errorf("%w: no participants loaded", models.ErrConfiguration)
		}

		primary, secondary := session.Table.DefaultFields()
		if req.PrimaryField != "" {
			primary = req.PrimaryField
		}
		if req.SecondaryField != "" {
			secondary = req.SecondaryField
		}
		cfg := models.RaffleConfiguration{
			TotalPrizes:    req.TotalPrizes,
			PrimaryField:   primary,
			SecondaryField: secondary,
		}

		if err := session.State.Start(session.Table.Participants, cfg); err != nil {
			return err
		}
		session.Seed = req.Seed
		session.rng = s.newSource(req.Seed)
		logger.Infof("Started raffle for tenant %s: %d prizes over %d participants", tenantID, cfg.TotalPrizes, len(session.Table.Participants))
		return nil
	})
}

// Draw picks a candidate for the prize currently in play.
func (s *RaffleService) Draw(tenantID string) (SessionStatus, error) {
	return s.mutate(tenantID, "draw", func(session *RaffleSession) error {
		award, err := session.State.DrawNext(session.rng)
		if err != nil {
			return err
		}
		logger.Infof("Tenant %s drew row %d for prize #%d", tenantID, award.Participant.OriginalIndex, award.PrizeNumber)
		return nil
	})
}

// Confirm makes the pending candidate the winner of its prize.
func (s *RaffleService) Confirm(tenantID string) (SessionStatus, error) {
	return s.mutate(tenantID, "confirm", func(session *RaffleSession) error {
		award, err := session.State.ConfirmCandidate()
		if err != nil {
			return err
		}
		logger.Infof("Tenant %s confirmed row %d for prize #%d", tenantID, award.Participant.OriginalIndex, award.PrizeNumber)
		return nil
	})
}

// Reject discards the pending candidate so the same prize can be drawn again.
func (s *RaffleService) Reject(tenantID string) (SessionStatus, error) {
	return s.mutate(tenantID, "reject", func(session *RaffleSession) error {
		award, err := session.State.RejectCandidate()
		if err != nil {
			return err
		}
		logger.Infof("Tenant %s rejected row %d for prize #%d", tenantID, award.Participant.OriginalIndex, award.PrizeNumber)
		return nil
	})
}

// Restart clears the winners but keeps participants and configuration.
func (s *RaffleService) Restart(tenantID string) (SessionStatus, error) {
	return s.mutate(tenantID, "restart", func(session *RaffleSession) error {
		if err := session.State.Restart(); err != nil {
			return err
		}
		session.rng = s.newSource(session.Seed)
		return nil
	})
}

// Winners returns the confirmed winners, prize #1 first.
func (s *RaffleService) Winners(tenantID string) []models.PrizeAward {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.State.WinnersByPrize()
}

// Export encodes the confirmed winners. Repeated calls without a state change return identical bytes.
func (s *RaffleService) Export(tenantID string, mode tabular.ExportMode, format tabular.Format) (*ExportFile, error) {
	session := s.getSession(tenantID)
	session.mu.Lock()
	winners := session.State.ConfirmedWinners()
	cfg := session.State.Config()
	session.mu.Unlock()

	sheet, err := tabular.Project(winners, cfg, mode)
	if err != nil {
		return nil, err
	}
	data, err := tabular.Encode(sheet, format)
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		Name:        tabular.FileName(s.exportName, format),
		ContentType: tabular.ContentType(format),
		Data:        data,
	}, nil
}

// SaveExport encodes the winners and hands the file to the configured sink.
func (s *RaffleService) SaveExport(ctx context.Context, tenantID string, mode tabular.ExportMode, format tabular.Format) (string, error) {
	if s.sink == nil {
		return "", fmt.Errorf("%w: no export destination configured", models.ErrExport)
	}
	file, err := s.Export(tenantID, mode, format)
	if err != nil {
		return "", err
	}

	location, err := s.sink.Save(ctx, file.Name, file.ContentType, file.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrExport, err)
	}
	logger.Infof("Saved winners for tenant %s to %s", tenantID, location)
	return location, nil
}

// CleanUpInactiveSessions removes sessions idle for longer than ttl and reports how many were dropped.
func (s *RaffleService) CleanUpInactiveSessions(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for tenantID, session := range s.sessions {
		if time.Since(session.LastActivity) > ttl {
			delete(s.sessions, tenantID)
			removed++
			logger.Infof("Dropped inactive session for tenant: %s", tenantID)
		}
	}
	return removed
}

// ClearSession removes all data associated with a specific tenant.
func (s *RaffleService) ClearSession(tenantID string) {
	s.mu.Lock()
	delete(s.sessions, tenantID)
	s.mu.Unlock()

	logger.Infof("Cleared session for tenant: %s", tenantID)
	if s.publisher != nil {
		s.publisher.Publish(tenantID, EventRaffleState, StateEvent{Action: "clear", Status: (&RaffleSession{State: NewRaffleState()}).status()})
	}
}

func (session *RaffleSession) status() SessionStatus {
	st := SessionStatus{
		RaffleStatus: session.State.Status(),
		Loaded:       session.Table != nil,
		Seeded:       session.Seed != nil,
	}
	if session.Table != nil {
		st.Columns = append([]string(nil), session.Table.Columns...)
		st.DefaultPrimary, st.DefaultSecondary = session.Table.DefaultFields()
		st.Truncated = session.Table.Truncated
		if !session.State.IsStarted() {
			st.ParticipantCount = len(session.Table.Participants)
		}
	}
	return st
}
