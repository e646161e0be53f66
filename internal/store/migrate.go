package store

import (
	"context"
	"fmt"
)

// Migrate transfers every row from src to dst through the public Store
// interface only, in the fixed order the spec requires: fingerprint ->
// embedding -> scores -> events. Both backends stay in sync because neither
// side ever touches the other's schema directly.
func Migrate(ctx context.Context, src, dst Store, ownerDID string) error {
	if fp, err := src.GetFingerprint(ctx, ownerDID); err != nil {
		return fmt.Errorf("reading source fingerprint: %w", err)
	} else if fp != nil {
		if err := dst.SaveFingerprint(ctx, ownerDID, *fp); err != nil {
			return fmt.Errorf("writing fingerprint: %w", err)
		}
		if len(fp.Centroid) > 0 {
			if err := dst.SaveEmbedding(ctx, ownerDID, fp.Centroid); err != nil {
				return fmt.Errorf("writing protected centroid: %w", err)
			}
		}
	}

	scores, err := src.GetAllAccountScores(ctx)
	if err != nil {
		return fmt.Errorf("reading source account scores: %w", err)
	}
	for _, s := range scores {
		if err := dst.UpsertAccountScore(ctx, s); err != nil {
			return fmt.Errorf("writing account score %s: %w", s.DID, err)
		}
	}

	events, err := src.GetAllEvents(ctx)
	if err != nil {
		return fmt.Errorf("reading source amplification events: %w", err)
	}
	for _, e := range events {
		if _, err := dst.InsertAmplificationEvent(ctx, e); err != nil {
			return fmt.Errorf("writing amplification event %d: %w", e.ID, err)
		}
	}

	cursor, err := src.GetScanState(ctx, "backlink_cursor")
	if err != nil {
		return fmt.Errorf("reading scan state: %w", err)
	}
	if cursor != "" {
		if err := dst.SetScanState(ctx, "backlink_cursor", cursor); err != nil {
			return fmt.Errorf("writing scan state: %w", err)
		}
	}

	return nil
}
