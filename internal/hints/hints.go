// Package hints implements the Hint Source Adapters (C9) of spec.md §4.8
// Phase E / §9: optional external indexer clients the Reconciler can
// consult for candidate block heights before falling back to bisection.
// A hint source is polymorphic over one small capability set — available?
// and candidate_blocks(account, range) — so the Reconciler can run with
// zero, one, or several configured, the way the teacher's services accept
// any number of optional collaborators behind a narrow interface.
package hints

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Candidate is one indexer-suggested block to validate, spec.md §4.8
// Phase E: "candidate blocks" paired with the asset ids the indexer
// believes moved there.
type Candidate struct {
	Block      uint64
	TokenHints []string
}

// Source is the capability set spec.md §9 describes: "available?(): bool,
// candidate_blocks(account, range): [{block, token_hints}]".
type Source interface {
	Available() bool
	CandidateBlocks(ctx context.Context, account string, lo, hi uint64) ([]Candidate, error)
}

// NullSource is always unavailable; the zero-configuration default when
// no indexer endpoint is configured, per spec.md §1's "optional" framing.
type NullSource struct{}

func (NullSource) Available() bool { return false }
func (NullSource) CandidateBlocks(context.Context, string, uint64, uint64) ([]Candidate, error) {
	return nil, nil
}

// GRPCSource adapts an external indexer's gRPC hint service. It speaks
// through google.protobuf.Struct request/response payloads rather than a
// bespoke generated message type — the same structpb-over-grpc shape the
// teacher's ledger_jsonrpc_server.go uses for its own emitted events —
// since this module has no proto toolchain of its own to generate a
// purpose-built schema against, and the indexer's schema is external
// and optional by design.
type GRPCSource struct {
	conn    grpc.ClientConnInterface
	logger  *zap.Logger
	timeout time.Duration

	available bool
	probed    bool
}

const (
	methodHealth          = "/near.ledger.hints.v1.HintService/Health"
	methodCandidateBlocks = "/near.ledger.hints.v1.HintService/CandidateBlocks"
)

// NewGRPCSource wraps conn. timeout <= 0 defaults to 10s per call —
// this package owns no retry policy, matching C9's "optional, best
// effort" role: a failed or slow hint source degrades to bisection, it
// never blocks the Reconciler.
func NewGRPCSource(conn grpc.ClientConnInterface, logger *zap.Logger, timeout time.Duration) *GRPCSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GRPCSource{conn: conn, logger: logger, timeout: timeout}
}

// Available probes the hint service once and caches the result for the
// life of the Source; a transient failure here just means this run
// proceeds without hints, not that the whole reconciliation fails.
func (s *GRPCSource) Available() bool {
	if s.probed {
		return s.available
	}
	s.probed = true

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, _ := structpb.NewStruct(nil)
	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, methodHealth, req, resp); err != nil {
		if s.logger != nil {
			s.logger.Debug("hint source unavailable", zap.Error(err))
		}
		s.available = false
		return false
	}
	s.available = true
	return true
}

// CandidateBlocks implements Source.
func (s *GRPCSource) CandidateBlocks(ctx context.Context, account string, lo, hi uint64) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]interface{}{
		"account_id": account,
		"from_block": float64(lo),
		"to_block":   float64(hi),
	})
	if err != nil {
		return nil, errors.Wrap(err, "hints: building candidate_blocks request")
	}

	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, methodCandidateBlocks, req, resp); err != nil {
		return nil, errors.Wrapf(err, "hints: candidate_blocks(%s, %d, %d)", account, lo, hi)
	}
	return parseCandidates(resp)
}

func parseCandidates(resp *structpb.Struct) ([]Candidate, error) {
	list, ok := resp.Fields["candidates"]
	if !ok {
		return nil, nil
	}
	values := list.GetListValue()
	if values == nil {
		return nil, errors.New("hints: candidates field is not a list")
	}
	out := make([]Candidate, 0, len(values.Values))
	for _, v := range values.Values {
		entry := v.GetStructValue()
		if entry == nil {
			continue
		}
		c := Candidate{Block: uint64(entry.Fields["block"].GetNumberValue())}
		if hintList := entry.Fields["token_hints"].GetListValue(); hintList != nil {
			for _, h := range hintList.Values {
				c.TokenHints = append(c.TokenHints, h.GetStringValue())
			}
		}
		out = append(out, c)
	}
	return out, nil
}
