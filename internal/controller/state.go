package controller

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigLoad  = errors.New("configuration load failed")
	ErrMapLoad     = errors.New("map load failed")
	ErrNotReady    = errors.New("viewport not initialized")
	ErrLoadStarted = errors.New("load already started")
)

// State is the controller's position in the load pipeline.
type State int

const (
	StateConstructed State = iota
	StateConfigLoading
	StateConfigLoaded
	StateMapLoading
	StateMapLoaded
	// StateRendered is kept once reached; later reload failures only set Err.
	StateRendered
	// StateFailed is terminal; it follows a configuration failure.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateConfigLoading:
		return "config_loading"
	case StateConfigLoaded:
		return "config_loaded"
	case StateMapLoading:
		return "map_loading"
	case StateMapLoaded:
		return "map_loaded"
	case StateRendered:
		return "rendered"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PanAnchor selects what happens to the pan anchor after a MoveTo.
type PanAnchor int

const (
	// PanAnchorFixed keeps the StartMoving anchor, so repeated MoveTo calls to the same
	// point apply the same delta again.
	PanAnchorFixed PanAnchor = iota
	// PanAnchorFollow moves the anchor to the target of each MoveTo.
	PanAnchorFollow
)

func (a PanAnchor) String() string {
	switch a {
	case PanAnchorFixed:
		return "fixed"
	case PanAnchorFollow:
		return "follow"
	default:
		return fmt.Sprintf("PanAnchor(%d)", int(a))
	}
}

func ParsePanAnchor(s string) (PanAnchor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed":
		return PanAnchorFixed, nil
	case "follow":
		return PanAnchorFollow, nil
	default:
		return PanAnchorFixed, fmt.Errorf("unknown pan anchor %q", s)
	}
}
