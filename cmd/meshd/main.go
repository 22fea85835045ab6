package main

import (
	"bufio"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/robjsp/meshcast/cmd/meshd/internal/statusapi"
	"github.com/robjsp/meshcast/pkg/meshid"
	"github.com/robjsp/meshcast/pkg/relay/tcprelay"
	"github.com/robjsp/meshcast/pkg/relay/udprelay"
)

// waitSigint blocks the current goroutine until a SIGINT arrives.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt)
	<-signalSyn
}

func setupLogging(cfg config) {
	log.SetReportCaller(cfg.reportCaller)

	if cfg.logLevel == "" {
		return
	}
	level, err := log.ParseLevel(cfg.logLevel)
	if err != nil {
		log.WithFields(log.Fields{"level": cfg.logLevel, "error": err}).Warn("meshd: invalid log level, leaving default")
		return
	}
	log.SetLevel(level)
}

// watchConfig reparses path whenever it changes on disk and requests a dial
// for every peer listed there, the hot-reload fsnotify gives us without
// requiring a restart to pick up a grown peer list. Peers that are already
// neighbors are not filtered out; they are dialed again.
func watchConfig(path string, engine *Engine) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("meshd: config hot-reload disabled, starting file watcher failed")
		return
	}
	if err := watcher.Add(path); err != nil {
		log.WithError(err).Warn("meshd: config hot-reload disabled, watching file failed")
		return
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				cfg, err := parseConfig(path)
				if err != nil {
					log.WithError(err).Warn("meshd: reloaded config is invalid, ignoring")
					continue
				}
				for _, addr := range cfg.peers {
					engine.RequestDial(addr)
				}
				log.Info("meshd: config reloaded")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("meshd: config watcher errored")
			}
		}
	}()
}

// readBroadcastLines treats each newline-terminated line on stdin as one
// reliable broadcast payload, a minimal way to drive traffic without a
// separate client tool.
func readBroadcastLines(engine *Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		engine.BroadcastReliable([]byte(line))
	}
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}
	configPath := os.Args[1]

	cfg, err := parseConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("meshd: failed to parse config")
	}
	setupLogging(cfg)

	engine := NewEngine(cfg.self, func(source meshid.NodeId, payload []byte) {
		log.WithFields(log.Fields{"source": source, "bytes": len(payload)}).Info("meshd: message received")
	})

	if cfg.tcpListen != "" {
		listener, err := tcprelay.Listen(cfg.tcpListen, cfg.self, engine.tcpEvents)
		if err != nil {
			log.WithError(err).Fatal("meshd: failed to listen on tcp")
		}
		engine.listener = listener
	}

	var udpPort int
	if cfg.udpListen != "" {
		socket, err := udprelay.NewSocket(cfg.udpListen, engine.udpEvents)
		if err != nil {
			log.WithError(err).Fatal("meshd: failed to open udp socket")
		}
		engine.udpSocket = socket
		udpPort = socket.LocalAddr().Port
	}

	if cfg.discoveryEnabled {
		if engine.udpSocket == nil {
			log.Warn("meshd: discovery enabled but no udp listen address configured, skipping")
		} else {
			discoverer, err := udprelay.NewDiscoverer(cfg.self, udpPort, time.Duration(cfg.discoveryInterval)*time.Second, func(d udprelay.Discovered) {
				engine.discovered <- d
			})
			if err != nil {
				log.WithError(err).Warn("meshd: starting peer discovery failed")
			} else {
				engine.discoverer = discoverer
			}
		}
	}

	for _, addr := range cfg.peers {
		engine.DialPeer(addr)
	}

	var statusSrv *statusapi.Server
	if cfg.statusAPIEnabled {
		statusSrv = statusapi.NewServer(cfg.statusAPIListen, func() interface{} { return engine.Status() })
		statusSrv.Start()
	}

	watchConfig(configPath, engine)

	stop := make(chan struct{})
	go engine.Run(stop)
	go readBroadcastLines(engine)

	log.WithField("self", cfg.self).Info("meshd: running")
	waitSigint()
	log.Info("meshd: shutting down")

	close(stop)
	engine.Shutdown()
	if statusSrv != nil {
		if err := statusSrv.Close(); err != nil {
			log.WithError(err).Warn("meshd: closing status api")
		}
	}
}
