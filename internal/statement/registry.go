// Package statement turns statement files into parsed movements.
//
// Each Reader understands one family of formats. The Registry asks its readers in order
// and keeps the first result that contains movements.
package statement

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// ErrUnsupported is returned by a reader that does not recognise the file.
var ErrUnsupported = errors.New("unsupported statement format")

// Reader parses one statement file.
type Reader interface {
	Name() string
	Parse(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error)
}

// Registry tries its readers in registration order.
type Registry struct {
	readers []Reader
	log     zerolog.Logger
}

// NewRegistry creates a registry over the given readers.
func NewRegistry(log zerolog.Logger, readers ...Reader) *Registry {
	return &Registry{readers: readers, log: log}
}

// Register appends a reader.
func (r *Registry) Register(reader Reader) {
	r.readers = append(r.readers, reader)
}

// Parse returns the first non-empty result. Reader failures are logged and the next reader
// is asked; when no reader produces movements the error wraps domain.ErrInvalidArgument.
func (r *Registry) Parse(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error) {
	var failures []error
	for _, reader := range r.readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed, err := reader.Parse(ctx, fileName, data)
		switch {
		case errors.Is(err, ErrUnsupported):
			continue
		case err != nil:
			r.log.Warn().Err(err).Str("reader", reader.Name()).Str("file", fileName).Msg("Statement reader failed")
			failures = append(failures, fmt.Errorf("%s: %w", reader.Name(), err))
			continue
		case parsed == nil || len(parsed.Movements) == 0:
			continue
		}
		r.log.Info().
			Str("reader", reader.Name()).
			Str("file", fileName).
			Int("movements", len(parsed.Movements)).
			Msg("Parsed statement")
		return parsed, nil
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("Parse: %s: no reader produced movements: %w: %w", fileName, domain.ErrInvalidArgument, errors.Join(failures...))
	}
	return nil, fmt.Errorf("Parse: %s: no reader produced movements: %w", fileName, domain.ErrInvalidArgument)
}
