package maintenance

import (
	"context"

	"github.com/liaizen/coparent/internal/services/connections/pairing"
	"github.com/liaizen/coparent/internal/services/connections/request"
)

type fakePasses struct {
	expired    []string
	sweepErr   error
	report     pairing.RepairReport
	repairErr  error
	sweepRuns  int
	repairRuns int
}

func (f *fakePasses) SweepOnce(context.Context) ([]string, error) {
	f.sweepRuns++
	return f.expired, f.sweepErr
}

func (f *fakePasses) RepairOnce(context.Context) (pairing.RepairReport, error) {
	f.repairRuns++
	return f.report, f.repairErr
}

type fakeLister struct {
	requests  []request.ConnectionRequest
	lastLimit int
}

func (f *fakeLister) ListAcceptedWithoutRoom(_ context.Context, limit int) ([]request.ConnectionRequest, error) {
	f.lastLimit = limit
	return f.requests, nil
}
