package engine

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"brigade/internal/repo"
)

type Metrics struct {
	archives *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brigade_role_archives_total",
			Help: "Role archive attempts by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		if err := reg.Register(m.archives); err != nil {
			return nil, fmt.Errorf("register engine metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeArchive(err error) {
	if m == nil {
		return
	}
	m.archives.WithLabelValues(archiveOutcome(err)).Inc()
}

func archiveOutcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Archives exposes the archive counter, labelled by outcome.
func (m *Metrics) Archives() *prometheus.CounterVec { return m.archives }
