// Command shardnode starts a sharded producer/validator node.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/tolelom/shardcore/client"
	"github.com/tolelom/shardcore/config"
	"github.com/tolelom/shardcore/crypto"
	"github.com/tolelom/shardcore/crypto/certgen"
	"github.com/tolelom/shardcore/epoch"
	"github.com/tolelom/shardcore/events"
	network "github.com/tolelom/shardcore/netadapter"
	"github.com/tolelom/shardcore/rpc"
	"github.com/tolelom/shardcore/runtimestub"
	"github.com/tolelom/shardcore/types"
	"github.com/tolelom/shardcore/wallet"

	storage "github.com/tolelom/shardcore/store"
)

// tickInterval paces the host loop: sync stepping, catchup, and chunk/block
// production all run on this cadence.
const tickInterval = 2 * time.Second

// stallCheckInterval paces the head-progress watchdog; headStallTimeout is
// how long the head may sit still before the watchdog rebroadcasts it.
const (
	stallCheckInterval = 30 * time.Second
	headStallTimeout   = 2 * time.Minute
)

func main() {
	app := &cli.App{
		Name:  "shardnode",
		Usage: "sharded block/chunk producer-validator node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.json", Usage: "path to config file"},
			&cli.StringFlag{Name: "key", Value: "validator.key", Usage: "path to keystore file"},
		},
		Action: runNode,
		Commands: []*cli.Command{
			{
				Name:  "genkey",
				Usage: "generate a new validator key and exit",
				Action: func(ctx *cli.Context) error {
					w, err := wallet.Generate()
					if err != nil {
						return err
					}
					if err := wallet.SaveKey(ctx.String("key"), keystorePassword(), w.PrivKey()); err != nil {
						return err
					}
					fmt.Printf("Generated key. Public key (validator account): %s\n", w.PublicKey())
					fmt.Printf("Saved to: %s\n", ctx.String("key"))
					return nil
				},
			},
			{
				Name:      "gencerts",
				Usage:     "generate CA + node TLS certs into the given directory and exit",
				ArgsUsage: "<dir>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return fmt.Errorf("gencerts: expected exactly one directory argument")
					}
					cfg, err := loadConfig(ctx.String("config"))
					if err != nil {
						return fmt.Errorf("config: %w", err)
					}
					dir := ctx.Args().First()
					if err := certgen.GenerateAll(dir, cfg.NodeID, nil); err != nil {
						return err
					}
					fmt.Printf("Certificates generated in %s for node %q\n", dir, cfg.NodeID)
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// keystorePassword reads the keystore password from the environment rather
// than a CLI flag (flags leak via ps).
func keystorePassword() string {
	password := os.Getenv("SHARDCORE_PASSWORD")
	if password == "" {
		log.Println("WARNING: SHARDCORE_PASSWORD not set — keystore will use an empty password")
	}
	return password
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func runNode(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	privKey, err := wallet.LoadKey(ctx.String("key"), keystorePassword())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	signer := wallet.New(privKey.Public().Hex(), privKey)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	chainStore := storage.NewChainStore(db)

	// ---- epoch 0 validator set + shard layout ----
	epochs := epoch.NewManager()
	genesisInfo, err := config.BuildGenesisEpoch(cfg)
	if err != nil {
		return fmt.Errorf("genesis epoch: %w", err)
	}
	epochs.Set(genesisInfo)

	// ---- runtime state from genesis allocation ----
	alloc := make(map[types.AccountID]uint64, len(cfg.Genesis.Alloc))
	for account, balance := range cfg.Genesis.Alloc {
		alloc[account] = balance
	}
	runtime := runtimestub.NewRuntime(alloc)

	// ---- genesis block (if fresh chain) ----
	tip, err := loadOrCreateTip(cfg, chainStore, genesisInfo, privKey)
	if err != nil {
		return err
	}

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	// ---- network + core ----
	// The node is built first (the client needs it as its network adapter);
	// the dispatcher is installed before Start so no message is lost.
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, nil, tlsCfg)

	core, err := client.NewClient(chainStore, epochs, runtime, node, signer, tip, client.Config{
		SelfID:             signer.AccountID(),
		ProduceEmptyBlocks: true,
		ProtocolVersion:    genesisInfo.ProtocolVersion,
	})
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	node.SetDispatcher(core)

	core.Events().Subscribe(events.EventReorg, func(ev events.Event) {
		log.Printf("reorg at height %d: %v", ev.BlockHeight, ev.Data)
	})
	core.Events().Subscribe(events.EventCatchupDone, func(ev events.Event) {
		log.Printf("catchup complete: %v", ev.Data)
	})

	if err := node.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(core.Chain(), core.Pool(), epochs, core, cfg.Genesis.ChainID)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)

	// ---- metrics ----
	if cfg.MetricsPort != 0 {
		metricsAddr := fmt.Sprintf(":%d", cfg.MetricsPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
		log.Printf("Metrics listening on %s", metricsAddr)
	}

	// ---- host loop ----
	done := make(chan struct{})
	go hostLoop(core, done)
	log.Printf("Node running (validator: %s)", signer.AccountID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	close(done)
	log.Println("Shutdown complete.")
	return nil
}

// hostLoop drives the core synchronously on one goroutine: the core never
// schedules its own work, it only reacts to these periodic entrypoints and
// to messages the network dispatcher feeds it.
func hostLoop(core *client.Client, done <-chan struct{}) {
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	stall := time.NewTicker(stallCheckInterval)
	defer stall.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-tick.C:
			core.Tick(now)
		case <-stall.C:
			if core.CheckHeadProgressStalled(headStallTimeout) {
				log.Println("[host] head progress stalled; head rebroadcast")
			}
		}
	}
}

// loadOrCreateTip resumes from the persisted tip when the data dir already
// holds a chain, and otherwise creates, persists, and adopts the genesis
// block.
func loadOrCreateTip(cfg *config.Config, chainStore *storage.ChainStore, genesisInfo *epoch.Info, privKey crypto.PrivateKey) (types.Tip, error) {
	if hash, err := chainStore.GetTip(); err == nil && hash != "" {
		block, err := chainStore.GetBlock(hash)
		if err != nil {
			return types.Tip{}, fmt.Errorf("load tip block: %w", err)
		}
		log.Printf("Resuming chain at height %d (%s)", block.Header.Height, block.Hash)
		return types.Tip{
			LastBlockHash: block.Hash,
			Height:        block.Header.Height,
			PrevBlockHash: block.Header.PrevHash,
			EpochID:       block.Header.EpochID,
			NextEpochID:   block.Header.NextEpochID,
		}, nil
	}

	genesis, err := config.CreateGenesisBlock(cfg, genesisInfo.ShardLayout, privKey)
	if err != nil {
		return types.Tip{}, fmt.Errorf("genesis: %w", err)
	}
	if err := chainStore.PutBlock(genesis); err != nil {
		return types.Tip{}, fmt.Errorf("persist genesis: %w", err)
	}
	if err := chainStore.SetCanonicalAtHeight(0, genesis.Hash); err != nil {
		return types.Tip{}, fmt.Errorf("canonical genesis: %w", err)
	}
	if err := chainStore.SetTip(genesis.Hash); err != nil {
		return types.Tip{}, fmt.Errorf("persist genesis tip: %w", err)
	}
	log.Printf("Genesis block committed: %s", genesis.Hash)
	return types.Tip{
		LastBlockHash: genesis.Hash,
		Height:        0,
		PrevBlockHash: genesis.Header.PrevHash,
		EpochID:       genesis.Header.EpochID,
		NextEpochID:   genesis.Header.NextEpochID,
	}, nil
}
