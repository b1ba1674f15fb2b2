// Copyright 2026 The LimiQuantix Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/limiquantix/limiquantix/transport"
)

// DefaultSocketDir is where the hypervisor places per-VM agent channel
// sockets, named <vm-id>.agent.sock.
const DefaultSocketDir = "/var/run/limiquantix/vms"

// ErrEndpointMismatch marks a discovery candidate that does not belong
// to the requested VM. Discovery skips the candidate and moves on; it
// never surfaces to callers.
var ErrEndpointMismatch = errors.New("host: endpoint does not belong to this vm")

// Resolver finds the channel endpoint path for a VM id.
type Resolver interface {
	Resolve(ctx context.Context, vmID string) (string, error)
}

// DomainQuerier reads channel facts from the VM's definition in the
// hypervisor, used when the filesystem alone cannot answer.
type DomainQuerier interface {
	// ChannelPath returns the agent channel's socket path from the VM
	// definition.
	ChannelPath(ctx context.Context, vmID string) (string, error)

	// ChannelAttached reports whether the hypervisor considers the
	// guest end of the channel connected.
	ChannelAttached(ctx context.Context, vmID string) (bool, error)
}

// PathResolver locates a VM's channel socket. Candidates are tried in
// priority order: the well-known per-VM path, then the socket
// directory's entries, then the VM definition.
//
// A directory entry is accepted only when the VM id appears in its
// name. Enumeration order carries no relationship to the target VM on
// a host running many guests; without the name check the resolver can
// hand back another VM's channel and the caller would silently attach
// to the wrong guest.
type PathResolver struct {
	// BaseDir is the socket directory. Empty means DefaultSocketDir.
	BaseDir string

	// Querier is the VM-definition fallback. Optional.
	Querier DomainQuerier
}

func (r *PathResolver) dir() string {
	if r.BaseDir != "" {
		return r.BaseDir
	}
	return DefaultSocketDir
}

// Resolve returns the endpoint path for vmID, or
// transport.ErrEndpointNotPresent when no candidate matches.
func (r *PathResolver) Resolve(ctx context.Context, vmID string) (string, error) {
	primary := filepath.Join(r.dir(), vmID+".agent.sock")
	if _, err := os.Stat(primary); err == nil {
		return primary, nil
	}

	if entries, err := os.ReadDir(r.dir()); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := verifyCandidate(entry.Name(), vmID); err != nil {
				continue
			}
			return filepath.Join(r.dir(), entry.Name()), nil
		}
	}

	if r.Querier != nil {
		path, err := r.Querier.ChannelPath(ctx, vmID)
		if err != nil {
			return "", fmt.Errorf("querying vm definition for %s: %w", vmID, err)
		}
		if path != "" {
			return path, nil
		}
	}

	return "", fmt.Errorf("no channel endpoint for vm %s: %w", vmID, transport.ErrEndpointNotPresent)
}

// verifyCandidate checks that an enumerated socket belongs to the VM.
func verifyCandidate(name, vmID string) error {
	if !strings.Contains(name, vmID) {
		return fmt.Errorf("candidate %s: %w", name, ErrEndpointMismatch)
	}
	return nil
}
