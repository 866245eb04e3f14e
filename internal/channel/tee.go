package channel

import (
	"context"

	"predflow/models"
)

// TeeRecords forwards every record from in to all outs, blocking on each
// so no consumer misses a record. Outs are closed when in closes. Used to
// feed the sink and the archive from a single record stream.
func TeeRecords(ctx context.Context, in <-chan models.TradeRecord, outs ...chan models.TradeRecord) {
	defer func() {
		for _, out := range outs {
			close(out)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-in:
			if !ok {
				return
			}
			for _, out := range outs {
				select {
				case out <- record:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
