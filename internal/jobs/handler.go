package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/drafts"
)

// ErrPermanent marks a job failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// Importer is the draft service operation an import job runs.
type Importer interface {
	Import(ctx context.Context, req drafts.ImportRequest) (*drafts.ImportResult, error)
}

// NewImportHandler returns the handler that runs ImportStatementJob jobs. Malformed input
// fails the job without retries.
func NewImportHandler(importer Importer, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*ImportStatementJob)
		if !ok {
			return fmt.Errorf("%w: unexpected job type %s", ErrPermanent, job.GetType())
		}
		jlog := log.With().Str("job_id", j.JobID).Str("owner_id", j.OwnerID).Logger()

		res, err := importer.Import(ctx, drafts.ImportRequest{
			OwnerID:  j.OwnerID,
			FileName: j.FileName,
			GCSURI:   j.GCSURI,
		})
		if errors.Is(err, domain.ErrInvalidArgument) {
			jlog.Error().Err(err).Str("gcs_uri", j.GCSURI).Msg("Statement cannot be imported")
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		if err != nil {
			jlog.Warn().Err(err).Int("retry", j.RetryCount).Msg("Statement import failed")
			return err
		}

		j.UploadGroupID = res.UploadGroupID
		j.DraftIDs = j.DraftIDs[:0]
		for _, d := range res.Drafts {
			j.DraftIDs = append(j.DraftIDs, d.ID)
		}
		jlog.Info().
			Str("upload_group_id", res.UploadGroupID).
			Int("drafts", len(res.Drafts)).
			Msg("Statement import job completed")
		return nil
	}
}
