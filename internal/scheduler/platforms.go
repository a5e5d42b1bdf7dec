package scheduler

import "strings"

// Platforms classifies platforms for ordering: the shared intermediate
// platforms, the host tool platform, and which platforms currently have a
// connected consumer. It is owned by the controller goroutine.
type Platforms struct {
	host         string
	intermediate map[string]struct{}
	connected    map[string]struct{}
}

// NewPlatforms builds a classification. Names are compared case-insensitively.
func NewPlatforms(host string, intermediate ...string) *Platforms {
	p := &Platforms{
		host:         strings.ToLower(host),
		intermediate: make(map[string]struct{}, len(intermediate)),
		connected:    make(map[string]struct{}),
	}
	for _, name := range intermediate {
		p.intermediate[strings.ToLower(name)] = struct{}{}
	}
	return p
}

// SetConnected records consumer connectivity and reports whether it changed.
func (p *Platforms) SetConnected(platform string, connected bool) bool {
	platform = strings.ToLower(platform)
	_, was := p.connected[platform]
	if was == connected {
		return false
	}
	if connected {
		p.connected[platform] = struct{}{}
	} else {
		delete(p.connected, platform)
	}
	return true
}

func (p *Platforms) IsIntermediate(platform string) bool {
	_, ok := p.intermediate[strings.ToLower(platform)]
	return ok
}

func (p *Platforms) IsConnected(platform string) bool {
	_, ok := p.connected[strings.ToLower(platform)]
	return ok
}

func (p *Platforms) IsHost(platform string) bool {
	return p.host != "" && strings.EqualFold(p.host, platform)
}
