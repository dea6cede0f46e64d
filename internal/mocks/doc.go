// Package mocks provides shared test doubles.
//
// Mocks use function fields so a test overrides only the behaviour it cares
// about; unset fields fall back to a deterministic default:
//
//	svc := mocks.NewMockService()
//	svc.ExpandNodeFn = func(ctx context.Context, courseID string, node domain.Node) ([]domain.Node, error) {
//	    return nil, generation.ErrRemoteStatus
//	}
package mocks
