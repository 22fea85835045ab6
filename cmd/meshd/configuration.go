package main

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// tomlConfig describes the TOML configuration file, mirroring dtn7-go's
// cmd/dtnd nested-block convention: one struct field per named block.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Discovery discoveryConf
	Listen    listenConf
	Peer      []peerConf
	StatusAPI statusAPIConf `toml:"status-api"`
}

// coreConf describes the Core configuration block.
type coreConf struct {
	// NodeId is this node's canonical NodeId string. Left empty, a fresh
	// random id is generated and logged once so it can be pinned in later
	// runs.
	NodeId string `toml:"node-id"`
}

// logConf describes the Logging configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
}

// discoveryConf describes the Discovery configuration block.
type discoveryConf struct {
	Enabled  bool
	Interval uint // seconds
}

// listenConf describes the addresses this node accepts connections on.
type listenConf struct {
	Tcp string
	Udp string
}

// peerConf describes one statically configured peer to dial at startup.
type peerConf struct {
	Address string
}

// statusAPIConf describes the read-only HTTP+WebSocket status endpoint.
type statusAPIConf struct {
	Enabled bool
	Listen  string
}

// config is the parsed, validated configuration this daemon runs with.
type config struct {
	self         meshid.NodeId
	logLevel     string
	reportCaller bool

	discoveryEnabled  bool
	discoveryInterval uint

	tcpListen string
	udpListen string

	peers []string

	statusAPIEnabled bool
	statusAPIListen  string
}

func parseConfig(path string) (config, error) {
	var raw tomlConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return config{}, fmt.Errorf("meshd: parsing %s: %w", path, err)
	}

	var self meshid.NodeId
	if raw.Core.NodeId == "" {
		self = meshid.NewNodeId()
		fmt.Fprintf(os.Stderr, "meshd: no node-id configured, generated %s\n", self)
	} else {
		parsed, err := meshid.ParseNodeId(raw.Core.NodeId)
		if err != nil {
			return config{}, fmt.Errorf("meshd: invalid node-id %q: %w", raw.Core.NodeId, err)
		}
		self = parsed
	}

	interval := raw.Discovery.Interval
	if interval == 0 {
		interval = 5
	}

	cfg := config{
		self:              self,
		logLevel:          raw.Logging.Level,
		reportCaller:      raw.Logging.ReportCaller,
		discoveryEnabled:  raw.Discovery.Enabled,
		discoveryInterval: interval,
		tcpListen:         raw.Listen.Tcp,
		udpListen:         raw.Listen.Udp,
		statusAPIEnabled:  raw.StatusAPI.Enabled,
		statusAPIListen:   raw.StatusAPI.Listen,
	}
	for _, p := range raw.Peer {
		cfg.peers = append(cfg.peers, p.Address)
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

// validate collects every field-level problem in cfg instead of stopping at
// the first one, the way bundle.CheckValid walks a bundle's blocks: a
// misconfigured node reports its listen address, its status API address and
// every bad peer entry in one pass rather than forcing a fix-rerun-fix
// cycle.
func (cfg config) validate() (errs error) {
	if cfg.tcpListen != "" {
		if _, _, err := net.SplitHostPort(cfg.tcpListen); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("meshd: listen.tcp %q: %w", cfg.tcpListen, err))
		}
	}
	if cfg.udpListen != "" {
		if _, _, err := net.SplitHostPort(cfg.udpListen); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("meshd: listen.udp %q: %w", cfg.udpListen, err))
		}
	}

	if cfg.statusAPIEnabled {
		if cfg.statusAPIListen == "" {
			errs = multierror.Append(errs, fmt.Errorf("meshd: status-api.enabled is true but status-api.listen is empty"))
		} else if _, _, err := net.SplitHostPort(cfg.statusAPIListen); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("meshd: status-api.listen %q: %w", cfg.statusAPIListen, err))
		}
	}

	for _, addr := range cfg.peers {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("meshd: peer address %q: %w", addr, err))
		}
	}

	return errs
}
