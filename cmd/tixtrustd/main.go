// Command tixtrustd starts a TixTrust marketplace service.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tell-dev/TixTrust/config"
	"github.com/Tell-dev/TixTrust/crypto/certgen"
	"github.com/Tell-dev/TixTrust/engine"
	"github.com/Tell-dev/TixTrust/events"
	"github.com/Tell-dev/TixTrust/indexer"
	"github.com/Tell-dev/TixTrust/journal"
	"github.com/Tell-dev/TixTrust/registry"
	"github.com/Tell-dev/TixTrust/rpc"
	"github.com/Tell-dev/TixTrust/storage"
	"github.com/Tell-dev/TixTrust/vm"
	"github.com/Tell-dev/TixTrust/vm/modules/funds"
	"github.com/Tell-dev/TixTrust/wallet"

	// The funds module self-registers via its init(); market has no
	// direct references here and is imported for the same side effect.
	_ "github.com/Tell-dev/TixTrust/vm/modules/market"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "service.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new service key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("TIX_PASSWORD")
	if password == "" {
		log.Println("WARNING: TIX_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (service address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load service key ----
	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/market")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// ---- state ----
	state := storage.NewStateDB(db)

	// ---- journal ----
	jrnl := journal.New(storage.NewJournalStore(db))
	if err := jrnl.Init(); err != nil {
		log.Fatalf("journal init: %v", err)
	}

	// ---- genesis (if fresh data dir) ----
	if jrnl.Tip() == nil {
		if err := config.InitGenesis(cfg, state); err != nil {
			log.Fatalf("genesis: %v", err)
		}
		log.Printf("Genesis state committed (registry owner: %s)", cfg.Genesis.RegistryOwner)
	}

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- indexer ----
	idx := indexer.New(db, emitter)

	// ---- executor + engine ----
	exec := vm.NewExecutor(state, funds.LedgerPayer{})
	eng := engine.New(cfg.Genesis.ChainID, state, exec, jrnl, emitter, privKey)

	// ---- registry view for queries ----
	reg := registry.New(state)

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("TLS enabled for RPC")
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(eng, state, reg, jrnl, idx)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.AuthToken, tlsCfg)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.AuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	// Deferred calls run in LIFO: rpcServer.Stop → db.Close
	log.Println("Shutdown complete.")
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
