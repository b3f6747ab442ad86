package storage

import (
	"sort"

	"github.com/l0p7/swkit/internal/fetch"
)

func sortedRequests(records []record) []*fetch.Request {
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	out := make([]*fetch.Request, 0, len(records))
	for _, r := range records {
		out = append(out, r.Request.Clone())
	}
	return out
}
