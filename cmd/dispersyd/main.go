// Command dispersyd runs the dispersy membership-and-dissemination
// overlay: create or join a community, and serve its sync loop over a
// UDP socket.
//
// Usage:
//
//	dispersyd create --config dispersyd.yaml
//	dispersyd join --config dispersyd.yaml --master-blob <file>
//	dispersyd run --config dispersyd.yaml
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/dispersy-go/dispersy/community"
	"github.com/dispersy-go/dispersy/config"
	"github.com/dispersy-go/dispersy/crypto"
	"github.com/dispersy-go/dispersy/dispersy"
	"github.com/dispersy-go/dispersy/ids"
	dlog "github.com/dispersy-go/dispersy/log"
	"github.com/dispersy-go/dispersy/member"
	"github.com/dispersy-go/dispersy/message"
	"github.com/dispersy-go/dispersy/metrics"
	"github.com/dispersy-go/dispersy/rlp"
	"github.com/dispersy-go/dispersy/store"
	"github.com/dispersy-go/dispersy/supervisor"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:    "dispersyd",
		Usage:   "run a dispersy membership-and-dissemination overlay node",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "dispersyd.yaml", Usage: "path to the YAML config file"},
		},
		Commands: []*cli.Command{
			createCommand(),
			joinCommand(),
			runCommand(),
			statusCommand(),
		},
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "dispersyd: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.Validate()
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	dlog.SetDefault(dlog.New(lvl))
}

// privileges is the fixed community shape this node understands: the
// mandatory dispersy-sync and dispersy-missing-sequence privileges plus
// one application privilege, "status", used to exercise FullSync
// persistence and the Permit dispatch path end to end.
func privileges(ids.CID) []community.Privilege {
	return []community.Privilege{
		community.DispersySyncPrivilege(),
		community.DispersyMissingSequencePrivilege(),
		{Name: "status", Distribution: message.DistFullSync, Destination: message.DestCommunity},
	}
}

func openFacade(dataDir string) (*store.Facade, func() error, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create datadir: %w", err)
	}
	db, err := store.OpenLevelDB(dataDir + "/dispersy.db")
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return store.NewFacade(db), db.Close, nil
}

// seedBootstrap parses cfg.Bootstrap's "host:port" entries and writes
// them into community 0's routing template, the rows CopyRoutingTemplate
// copies into every community a fresh node creates or joins. A no-op
// when the config carries no bootstrap entries.
func seedBootstrap(facade *store.Facade, bootstrap []string) error {
	if len(bootstrap) == 0 {
		return nil
	}
	rows := make([]store.RoutingRow, 0, len(bootstrap))
	for _, addr := range bootstrap {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("bootstrap entry %q: %w", addr, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return fmt.Errorf("bootstrap entry %q: invalid port: %w", addr, err)
		}
		rows = append(rows, store.RoutingRow{Host: host, Port: uint16(port)})
	}
	return facade.SeedBootstrapRouting(rows)
}

func marshalSealed(sb *crypto.SealedBlob) []byte {
	b, err := rlp.EncodeToBytes(sb)
	if err != nil {
		panic(fmt.Sprintf("dispersyd: encode sealed key: %v", err))
	}
	return b
}

func unmarshalSealed(b []byte, sb *crypto.SealedBlob) error {
	return rlp.DecodeBytes(b, sb)
}

// loadOrCreateIdentity recovers this node's local-identity keypair from
// the first key row in the facade, sealing/unsealing it under
// passphrase when ks.Encrypt is set, or mints a fresh one on first run.
func loadOrCreateIdentity(facade *store.Facade, ks config.KeystoreConfig, passphrase string) (*crypto.Keypair, error) {
	keys, err := facade.ListKeys()
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		row := keys[0]
		privateBlob := row.PrivateBlob
		if ks.Encrypt {
			var sealed crypto.SealedBlob
			if err := unmarshalSealed(row.PrivateBlob, &sealed); err != nil {
				return nil, fmt.Errorf("unmarshal sealed key: %w", err)
			}
			privateBlob, err = crypto.Unseal(&sealed, passphrase, ks.ScryptN)
			if err != nil {
				return nil, fmt.Errorf("unseal local identity: %w", err)
			}
		}
		return crypto.KeypairFromPrivateBlob(privateBlob)
	}

	kp, err := crypto.GenerateKeypair(crypto.DefaultKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate local identity: %w", err)
	}
	privateBlob := kp.ToPrivateBlob()
	if ks.Encrypt {
		sealed, err := crypto.Seal(privateBlob, passphrase, ks.ScryptN)
		if err != nil {
			return nil, fmt.Errorf("seal local identity: %w", err)
		}
		privateBlob = marshalSealed(sealed)
	}
	if err := facade.Tx(func(txn *store.Txn) error {
		_, err := txn.InsertKey(kp.ToPublicBlob(), privateBlob)
		return err
	}); err != nil {
		return nil, fmt.Errorf("persist local identity: %w", err)
	}
	return kp, nil
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "create a new community and print its cid",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "passphrase", Usage: "passphrase for the local keystore, if encryption is enabled"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			facade, closeDB, err := openFacade(cfg.DataDir)
			if err != nil {
				return err
			}
			defer closeDB()

			registry := member.NewRegistry()
			kp, err := loadOrCreateIdentity(facade, cfg.Keystore, c.String("passphrase"))
			if err != nil {
				return err
			}
			mine := registry.InternLocal(kp)

			if err := seedBootstrap(facade, cfg.Bootstrap); err != nil {
				return fmt.Errorf("seed bootstrap routing: %w", err)
			}

			comm, err := community.CreateCommunity(facade, registry, mine, privileges(ids.CID{}))
			if err != nil {
				return fmt.Errorf("create community: %w", err)
			}
			fmt.Printf("created community %s\n", comm.CID)
			return nil
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:  "join",
		Usage: "join an existing community from a master public key file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "master-blob", Usage: "path to the community's master public key blob"},
			&cli.StringFlag{Name: "passphrase", Usage: "passphrase for the local keystore, if encryption is enabled"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			masterPath := c.String("master-blob")
			if masterPath == "" {
				return fmt.Errorf("join: --master-blob is required")
			}
			masterBlob, err := os.ReadFile(masterPath)
			if err != nil {
				return fmt.Errorf("read master blob: %w", err)
			}

			facade, closeDB, err := openFacade(cfg.DataDir)
			if err != nil {
				return err
			}
			defer closeDB()

			registry := member.NewRegistry()
			kp, err := loadOrCreateIdentity(facade, cfg.Keystore, c.String("passphrase"))
			if err != nil {
				return err
			}
			mine := registry.InternLocal(kp)

			if err := seedBootstrap(facade, cfg.Bootstrap); err != nil {
				return fmt.Errorf("seed bootstrap routing: %w", err)
			}

			comm, err := community.JoinCommunity(facade, registry, masterBlob, mine, privileges(ids.CID{}))
			if err != nil {
				return fmt.Errorf("join community: %w", err)
			}
			fmt.Printf("joined community %s\n", comm.CID)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the sync loop over every locally joined community",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "passphrase", Usage: "passphrase for the local keystore, if encryption is enabled"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			facade, closeDB, err := openFacade(cfg.DataDir)
			if err != nil {
				return err
			}
			defer closeDB()

			registry := member.NewRegistry()
			if _, err := loadOrCreateIdentity(facade, cfg.Keystore, c.String("passphrase")); err != nil {
				return err
			}

			communities, err := community.LoadCommunities(facade, registry, privileges)
			if err != nil {
				return fmt.Errorf("load communities: %w", err)
			}
			if len(communities) == 0 {
				return fmt.Errorf("no communities joined; run 'create' or 'join' first")
			}

			transport, err := dispersy.ListenUDP(cfg.ListenOn)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.ListenOn, err)
			}
			defer transport.Close()

			m := metrics.New(prometheus.NewRegistry())
			d := dispersy.New(registry, facade, transport, m)
			for _, comm := range communities {
				d.AddCommunity(comm, nil)
			}

			services := supervisor.NewServiceRegistry(0)
			if err := services.Register(&supervisor.ServiceDescriptor{
				Name:    "transport",
				Service: &transportService{transport: transport, dispatcher: d},
			}); err != nil {
				return err
			}
			// bootstrap-dial sends each community's first dispersy-sync to its
			// known peers, so a restarted node starts anti-entropy immediately
			// instead of waiting out the first sync-tick interval; it depends
			// on transport since nothing can be sent before the socket is up.
			if err := services.Register(&supervisor.ServiceDescriptor{
				Name:         "bootstrap-dial",
				Service:      &bootstrapDialService{dispatcher: d, facade: facade, communities: communities},
				Dependencies: []string{"transport"},
			}); err != nil {
				return err
			}
			if errs := services.Start(); len(errs) > 0 {
				return fmt.Errorf("start services: %v", errs)
			}
			defer services.Stop()

			// Every joined community gets its own periodic sync-tick service,
			// started and stopped as a unit separate from the transport socket
			// above: a stuck community's tick loop shouldn't block the socket
			// from starting, and a large set of joined communities has a
			// higher failure surface than the one transport service the
			// ServiceRegistry's dependency-ordered startup is built for.
			lifecycle := supervisor.NewLifecycleManager(supervisor.DefaultLifecycleConfig())
			for i, comm := range communities {
				svc := &syncTickService{
					dispatcher: d,
					community:  comm,
					facade:     facade,
					interval:   time.Duration(cfg.Sync.CycleIntervalSeconds) * time.Second,
				}
				if err := lifecycle.Register(svc, i); err != nil {
					return fmt.Errorf("register sync tick service: %w", err)
				}
			}
			if errs := lifecycle.StartAll(); len(errs) > 0 {
				return fmt.Errorf("start sync tick services: %v", errs)
			}
			defer lifecycle.StopAll()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			dlog.Default().Info("received shutdown signal")
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print row counts for each table in the local database",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			facade, closeDB, err := openFacade(cfg.DataDir)
			if err != nil {
				return err
			}
			defer closeDB()

			stats, err := facade.TableStats()
			if err != nil {
				return err
			}
			for _, table := range []string{"community", "user", "key", "routing", "sync"} {
				fmt.Printf("%-10s %d\n", table, stats[table])
			}
			return nil
		},
	}
}

// transportService adapts UDPTransport.Serve to supervisor.Service so
// the sync loop's socket starts and stops under the ServiceRegistry's
// dependency-ordered lifecycle rather than being launched ad hoc.
type transportService struct {
	transport  *dispersy.UDPTransport
	dispatcher *dispersy.Dispatcher
	done       chan struct{}
}

func (s *transportService) Name() string { return "transport" }

func (s *transportService) Start() error {
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.transport.Serve(s.dispatcher); err != nil {
			dlog.Default().Warn("transport serve loop exited", "err", err)
		}
	}()
	return nil
}

func (s *transportService) Stop() error {
	return s.transport.Close()
}

// bootstrapDialService sends one dispersy-sync per joined community to
// its known peers on startup, the one-shot counterpart to
// syncTickService's periodic broadcast. Start returns once every
// community has been dialed, which is also what makes it meaningful as
// a ServiceRegistry dependency: Stop is a no-op, there's nothing
// running in the background to tear down.
type bootstrapDialService struct {
	dispatcher  *dispersy.Dispatcher
	facade      *store.Facade
	communities []*community.Community
}

func (s *bootstrapDialService) Name() string { return "bootstrap-dial" }

func (s *bootstrapDialService) Start() error {
	for _, comm := range s.communities {
		rows, err := s.facade.ListRouting(comm.DatabaseID)
		if err != nil {
			return fmt.Errorf("list routing for %s: %w", comm.CID, err)
		}
		for _, r := range rows {
			addr := net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
			if err := s.dispatcher.BroadcastSync(addr, comm.CID, comm.MyMember); err != nil {
				dlog.Default().Warn("bootstrap dial: broadcast sync", "community", comm.CID, "addr", addr, "err", err)
			}
		}
	}
	return nil
}

func (s *bootstrapDialService) Stop() error { return nil }

// syncTickService drives one joined community's periodic anti-entropy
// work under the LifecycleManager: every interval it ticks the
// community's Trigger table (expiring delayed messages/packets past
// their deadline) and broadcasts this node's current Bloom window to
// every peer in its routing table.
type syncTickService struct {
	dispatcher *dispersy.Dispatcher
	community  *community.Community
	facade     *store.Facade
	interval   time.Duration

	stop chan struct{}
	done chan struct{}
}

func (s *syncTickService) Name() string { return "sync-tick:" + s.community.CID.String() }

func (s *syncTickService) Start() error {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				s.community.Triggers().Tick(now)
				s.broadcastToRouting()
			}
		}
	}()
	return nil
}

func (s *syncTickService) broadcastToRouting() {
	rows, err := s.facade.ListRouting(s.community.DatabaseID)
	if err != nil {
		dlog.Default().Warn("sync tick: list routing", "community", s.community.CID, "err", err)
		return
	}
	for _, r := range rows {
		addr := net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
		if err := s.dispatcher.BroadcastSync(addr, s.community.CID, s.community.MyMember); err != nil {
			dlog.Default().Warn("sync tick: broadcast sync", "community", s.community.CID, "addr", addr, "err", err)
		}
	}
}

func (s *syncTickService) Stop() error {
	close(s.stop)
	<-s.done
	return nil
}
