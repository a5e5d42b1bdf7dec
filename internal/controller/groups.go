package controller

import (
	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// GroupCriteria selects the jobs of a compile group. An exact SourceUUID wins
// over the heuristic Search term. Platform narrows either lookup when set.
type GroupCriteria struct {
	Search     string
	SourceUUID uuid.UUID
	Platform   string
}

type compileGroup struct {
	token   string
	members map[job.Identity]struct{}
	size    int
}

// groupResult is the terminal status of a group closed by a completion.
type groupResult struct {
	token  string
	status ports.CompileGroupStatus
	size   int
}

// groups tracks open compile groups in creation order.
type groups struct {
	open []*compileGroup
}

func (g *groups) add(token string, members []job.Identity) *compileGroup {
	group := &compileGroup{token: token, members: make(map[job.Identity]struct{}, len(members))}
	for _, id := range members {
		group.members[id] = struct{}{}
	}
	group.size = len(group.members)
	g.open = append(g.open, group)
	return group
}

// complete folds one finished job into every open group containing it. A
// failure closes the group immediately; otherwise a group closes once its
// last member succeeds.
func (g *groups) complete(id job.Identity, succeeded bool) []groupResult {
	var (
		closed []groupResult
		open   = g.open[:0]
	)
	for _, group := range g.open {
		if _, ok := group.members[id]; !ok {
			open = append(open, group)
			continue
		}
		if !succeeded {
			closed = append(closed, groupResult{token: group.token, status: ports.CompileGroupFailed, size: group.size})
			continue
		}
		delete(group.members, id)
		if len(group.members) == 0 {
			closed = append(closed, groupResult{token: group.token, status: ports.CompileGroupCompiled, size: group.size})
			continue
		}
		open = append(open, group)
	}
	for i := len(open); i < len(g.open); i++ {
		g.open[i] = nil
	}
	g.open = open
	return closed
}

func (g *groups) len() int {
	return len(g.open)
}
