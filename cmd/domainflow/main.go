package main

import (
	"log"
	"os"
	"time"

	v1 "domainflow/api/v1"
	"domainflow/internal/auth"
	"domainflow/internal/cache"
	"domainflow/internal/config"
	"domainflow/internal/db"
	"domainflow/internal/dnscheck"
	"domainflow/internal/dnsprov"
	"domainflow/internal/dnsprov/acmessl"
	"domainflow/internal/dnsprov/cloudflare"
	"domainflow/internal/orchestrator"
	"domainflow/internal/order"
	"domainflow/internal/payments"
	"domainflow/internal/publish"
	"domainflow/internal/registrar"
	"domainflow/internal/registrar/namecom"
	"domainflow/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
		os.Exit(1)
	}
	log.Println("✓ Configuration loaded")

	auth.InitJWT(cfg.JWT.Secret)

	// 2. Initialize MySQL
	gdb, err := db.Open(cfg.MySQL.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize MySQL: %v", err)
		os.Exit(1)
	}
	if cfg.Migrate {
		if err := db.Migrate(gdb); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
			os.Exit(1)
		}
		log.Println("✓ Database migrated")
	}

	// 3. Initialize Redis (optional: lookup cache + webhook dedupe fast
	// path; everything degrades to the database without it)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("Redis unavailable, continuing without cache: %v", err)
			rdb = nil
		}
	}

	// 4. External collaborators
	reg := namecom.New(cfg.Registrar.APIURL, cfg.Registrar.Username, cfg.Registrar.APIToken)
	cf := cloudflare.New(cfg.Cloudflare.Email, cfg.Cloudflare.APIToken)

	var prov dnsprov.Provisioner = cf
	if cfg.SSL.Mode == "acme" {
		issuer := acmessl.NewIssuer(gdb, cf, cfg.SSL.ACMEEmail, cfg.SSL.ACMEDirectory)
		prov = acmessl.Wrap(cf, issuer)
		log.Println("✓ SSL backend: acme")
	} else {
		log.Println("✓ SSL backend: cloudflare")
	}

	// 5. Core services
	store := order.NewStore(gdb)
	hub := ws.NewHub(store)
	defer hub.Close()

	orch := orchestrator.New(store, reg, prov, hub, orchestrator.Options{
		Contact:          registrar.Contact{Email: cfg.Registrar.ContactEmail},
		Years:            cfg.Registrar.Years,
		OriginTarget:     cfg.Cloudflare.CNAMETarget,
		MaxPurchaseTries: uint(cfg.Orchestrator.MaxAttempts),
		PriceBandPct:     cfg.Registrar.PriceBandPct,
		BackoffBase:      time.Duration(cfg.Orchestrator.BackoffBaseMs) * time.Millisecond,
		CallTimeout:      time.Duration(cfg.Orchestrator.CallTimeoutSec) * time.Second,
	})
	receiver := payments.NewReceiver(gdb, rdb, cfg.Webhook.Secret, orch)
	gateway := publish.NewGateway(store, publish.NewPersonaReader(gdb), rdb)

	// 6. Background DNS/SSL check worker
	if cfg.DNSWorker.Enabled {
		worker := dnscheck.NewWorker(store, orch,
			time.Duration(cfg.DNSWorker.IntervalSec)*time.Second, cfg.DNSWorker.BatchSize)
		worker.Start()
		defer worker.Stop()
	}

	// 7. HTTP server
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/socket.io/*any", gin.WrapH(hub.Handler()))
	r.POST("/socket.io/*any", gin.WrapH(hub.Handler()))

	v1.SetupRouter(r, v1.Deps{
		DB:        gdb,
		Config:    cfg,
		Store:     store,
		Gateway:   gateway,
		Orch:      orch,
		Registrar: reg,
		Receiver:  receiver,
	})

	log.Printf("✓ Server starting on %s", cfg.HTTPAddr)

	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
