package controller

import (
	"testing"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

func TestGroupsCompleteInAnyOrder(t *testing.T) {
	a := job.NewIdentity("a.png", "pc", "compile")
	b := job.NewIdentity("b.png", "pc", "compile")
	c := job.NewIdentity("c.png", "pc", "compile")

	orders := [][]job.Identity{{a, b, c}, {c, b, a}, {b, a, c}}
	for _, order := range orders {
		var g groups
		g.add("token", []job.Identity{a, b, c})

		for i, id := range order {
			closed := g.complete(id, true)
			if i < len(order)-1 {
				if len(closed) != 0 {
					t.Fatalf("group closed early after %d completions", i+1)
				}
				continue
			}
			if len(closed) != 1 || closed[0].status != ports.CompileGroupCompiled || closed[0].size != 3 {
				t.Fatalf("expected one compiled group of 3, got %+v", closed)
			}
		}
		if g.len() != 0 {
			t.Fatalf("expected no open groups, got %d", g.len())
		}
	}
}

func TestGroupsFailImmediately(t *testing.T) {
	a := job.NewIdentity("a.png", "pc", "compile")
	b := job.NewIdentity("b.png", "pc", "compile")

	var g groups
	g.add("first", []job.Identity{a, b})
	g.add("second", []job.Identity{b})
	g.add("third", []job.Identity{a})

	closed := g.complete(b, false)
	if len(closed) != 2 {
		t.Fatalf("expected two failed groups, got %+v", closed)
	}
	for _, res := range closed {
		if res.status != ports.CompileGroupFailed {
			t.Fatalf("expected failed status, got %s", res.status)
		}
	}
	if g.len() != 1 {
		t.Fatalf("expected one open group, got %d", g.len())
	}

	closed = g.complete(a, true)
	if len(closed) != 1 || closed[0].token != "third" || closed[0].status != ports.CompileGroupCompiled {
		t.Fatalf("unexpected result %+v", closed)
	}
}

func TestGroupsIgnoreUnrelatedJobs(t *testing.T) {
	var g groups
	g.add("token", []job.Identity{job.NewIdentity("a.png", "pc", "compile")})

	if closed := g.complete(job.NewIdentity("z.png", "pc", "compile"), false); len(closed) != 0 {
		t.Fatalf("unrelated failure closed a group: %+v", closed)
	}
	if g.len() != 1 {
		t.Fatalf("expected group to stay open")
	}
}
