package reconcile

import (
	"context"
	"fmt"

	"github.com/goliatone/go-protect/core"
)

// Drift is one observed disagreement between the authoritative ledger and
// the replica for a single identity.
type Drift struct {
	Identity      core.Identity
	Field         string
	Authoritative string
	Replica       string
	Repaired      bool
}

// Reconciler walks a set of identities, comparing the replica's ledger
// entries against the authoritative store. In repair mode the replica is
// overwritten with the authoritative entry wherever they disagree.
type Reconciler struct {
	Authoritative core.RegistrationStore
	Replica       core.RegistrationStore
	Orchestrator  *Orchestrator
	// CheckpointEvery is the walk interval between checkpoint writes.
	// Defaults to 100.
	CheckpointEvery int
	Logger          core.Logger
}

// Run executes the job over the supplied identities. A job resumed with a
// checkpoint skips everything up to and including the checkpointed
// identity. Store failures park the job failed and propagate.
func (r *Reconciler) Run(ctx context.Context, jobID string, identities []core.Identity) ([]Drift, error) {
	if r == nil || r.Authoritative == nil || r.Replica == nil || r.Orchestrator == nil {
		return nil, fmt.Errorf("reconcile: reconciler requires both stores and an orchestrator")
	}
	job, err := r.Orchestrator.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == JobStatusSucceeded {
		return nil, nil
	}

	every := r.CheckpointEvery
	if every <= 0 {
		every = 100
	}

	var drifts []Drift
	checkpoint := job.Checkpoint
	skipping := checkpoint != ""
	sinceCheckpoint := 0
	for _, identity := range identities {
		if skipping {
			if identity.String() == checkpoint {
				skipping = false
			}
			continue
		}

		found, err := r.compare(ctx, job.Mode, identity)
		if err != nil {
			if _, failErr := r.Orchestrator.Fail(ctx, jobID, err, nil); failErr != nil {
				return drifts, failErr
			}
			return drifts, err
		}
		drifts = append(drifts, found...)

		checkpoint = identity.String()
		sinceCheckpoint++
		if sinceCheckpoint >= every {
			if _, err := r.Orchestrator.SaveCheckpoint(ctx, jobID, checkpoint, len(drifts), nil); err != nil {
				return drifts, err
			}
			sinceCheckpoint = 0
		}
	}

	if _, err := r.Orchestrator.Complete(ctx, jobID, checkpoint, len(drifts), map[string]any{
		"identities_walked": len(identities),
	}); err != nil {
		return drifts, err
	}
	r.logDrift(ctx, jobID, len(identities), drifts)
	return drifts, nil
}

func (r *Reconciler) compare(ctx context.Context, mode JobMode, identity core.Identity) ([]Drift, error) {
	authoritative, authOK, err := r.Authoritative.Get(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("reconcile: authoritative lookup for %s: %w", identity, err)
	}
	replica, replicaOK, err := r.Replica.Get(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("reconcile: replica lookup for %s: %w", identity, err)
	}
	if !authOK {
		// Nothing authoritative to compare against; replica-only entries are
		// left for the operator rather than silently deleted.
		if replicaOK {
			return []Drift{{
				Identity:      identity,
				Field:         "orphaned",
				Authoritative: "",
				Replica:       string(replica.Registration),
			}}, nil
		}
		return nil, nil
	}

	var drifts []Drift
	if !replicaOK {
		drifts = append(drifts, Drift{
			Identity:      identity,
			Field:         "missing",
			Authoritative: string(authoritative.Registration),
		})
	} else {
		if replica.Registration != authoritative.Registration {
			drifts = append(drifts, Drift{
				Identity:      identity,
				Field:         "registration",
				Authoritative: string(authoritative.Registration),
				Replica:       string(replica.Registration),
			})
		}
		if replica.Authorization != authoritative.Authorization {
			drifts = append(drifts, Drift{
				Identity:      identity,
				Field:         "authorization",
				Authoritative: string(authoritative.Authorization),
				Replica:       string(replica.Authorization),
			})
		}
		if replica.ProxyIdentity != authoritative.ProxyIdentity {
			drifts = append(drifts, Drift{
				Identity:      identity,
				Field:         "proxy",
				Authoritative: authoritative.ProxyIdentity.String(),
				Replica:       replica.ProxyIdentity.String(),
			})
		}
	}
	if len(drifts) == 0 {
		return nil, nil
	}

	if mode == JobModeRepair {
		if err := r.Replica.Upsert(ctx, authoritative); err != nil {
			return nil, fmt.Errorf("reconcile: repair %s: %w", identity, err)
		}
		for i := range drifts {
			drifts[i].Repaired = true
		}
	}
	return drifts, nil
}

func (r *Reconciler) logDrift(ctx context.Context, jobID string, walked int, drifts []Drift) {
	if r.Logger == nil {
		return
	}
	logger := r.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fields, ok := logger.(core.FieldsLogger); ok {
		logger = fields.WithFields(map[string]any{
			"job_id":      jobID,
			"walked":      walked,
			"drift_count": len(drifts),
		})
	}
	logger.Info("ledger reconciliation finished")
}
