// Command pogsim runs a discrete-event Proof-of-Generosity network
// simulation: it builds a synthetic peer-to-peer topology, assigns
// validator stakes and behavioral variants, wires every node's actor loop
// to a WorldState slot clock under one of four pluggable consensus
// engines, drives synthetic transaction traffic, and emits per-slot and
// per-epoch CSV metrics.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
	"github.com/pog-sim/pogsim/internal/metrics"
	"github.com/pog-sim/pogsim/internal/node"
	"github.com/pog-sim/pogsim/internal/simconfig"
	"github.com/pog-sim/pogsim/internal/simlog"
	"github.com/pog-sim/pogsim/internal/topology"
	"github.com/pog-sim/pogsim/internal/txdriver"
	"github.com/pog-sim/pogsim/internal/wallet"
	"github.com/pog-sim/pogsim/internal/worldstate"
)

func main() {
	app := &cli.App{
		Name:  "pogsim",
		Usage: "discrete-event Proof-of-Generosity consensus simulator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file, overrides defaults but is itself overridden by explicit flags"},
			&cli.IntFlag{Name: "node-num", Usage: "number of simulated nodes"},
			&cli.IntFlag{Name: "malicious-node-num", Usage: "number of Malicious nodes"},
			&cli.IntFlag{Name: "fake-node-num", Usage: "Sybil sub-identities per Malicious node"},
			&cli.IntFlag{Name: "unstable-node-num", Usage: "number of Unstable (churning) nodes"},
			&cli.Float64Flag{Name: "trans-num", Usage: "mean transactions per second"},
			&cli.Float64Flag{Name: "slot-duration-seconds", Usage: "slot duration in seconds"},
			&cli.IntFlag{Name: "slots-per-epoch", Usage: "slots per epoch"},
			&cli.IntFlag{Name: "pow-difficulty", Usage: "starting PoW leading-zero-bit difficulty"},
			&cli.IntFlag{Name: "pow-max-threads", Usage: "bounded PoW miner concurrency"},
			&cli.Float64Flag{Name: "offline-probability", Usage: "per-epoch churn probability for Unstable nodes"},
			&cli.Float64Flag{Name: "gini", Usage: "target initial stake Gini coefficient"},
			&cli.Float64Flag{Name: "transaction-fee", Usage: "flat per-transaction fee"},
			&cli.Float64Flag{Name: "base-reward", Usage: "fixed block reward credited to the proposer"},
			&cli.StringFlag{Name: "consensus", Usage: "pos|pow|minotaur|pog"},
			&cli.StringFlag{Name: "topology", Usage: "er|ba"},
			&cli.Int64Flag{Name: "graph-seed", Usage: "RNG seed for topology and stake generation"},
			&cli.Float64Flag{Name: "er-probability", Usage: "Erdős–Rényi edge probability"},
			&cli.StringFlag{Name: "output-dir", Usage: "directory for graph.json, metrics_*.csv and output.log"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error"},
			&cli.IntFlag{Name: "num-slots", Usage: "number of slots to simulate before exiting"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		simlog.Root.Fatal("pogsim exited with error", "err", err)
	}
}

func run(c *cli.Context) error {
	cfg := simconfig.Default()
	if path := c.String("config"); path != "" {
		loaded, err := loadConfigFile(path)
		if err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		cfg = loaded
	}
	applyFlagOverrides(c, &cfg)

	// An unset output dir (the Default() placeholder) gets a fresh
	// per-run directory name so repeated or concurrent runs never
	// clobber each other's graph.json/metrics_*.csv.
	if cfg.OutputDir == "." {
		cfg.OutputDir = filepath.Join(".", "pogsim-run-"+uuid.NewString())
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	logger, logFile, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	simlog.Root = logger
	logger.Info("starting simulation", "nodes", cfg.NodeNum, "consensus", string(cfg.Consensus), "topology", string(cfg.Topology))

	graph, err := buildTopology(cfg)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}
	if err := topology.WriteJSON(graph, filepath.Join(cfg.OutputDir, "graph.json")); err != nil {
		return fmt.Errorf("write graph.json: %w", err)
	}

	genesisChain, err := chain.Genesis()
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}
	genesisBlock := genesisChain.Tip()

	wallets := make([]*wallet.Wallet, cfg.NodeNum)
	for i := range wallets {
		w, err := wallet.New()
		if err != nil {
			return fmt.Errorf("create wallet %d: %w", i, err)
		}
		wallets[i] = w
	}

	totalStake := float64(cfg.NodeNum) * 1000.0
	stakes := simconfig.GenerateStakes(cfg.NodeNum, cfg.Gini, totalStake, cfg.GraphSeed)

	engine, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("build consensus engine: %w", err)
	}

	csvWriter, err := metrics.NewCSVWriter(
		filepath.Join(cfg.OutputDir, "metrics_slots.csv"),
		filepath.Join(cfg.OutputDir, "metrics_epochs.csv"),
	)
	if err != nil {
		return fmt.Errorf("open metrics files: %w", err)
	}
	defer csvWriter.Close()
	slotDuration := time.Duration(cfg.SlotDurationSecs * float64(time.Second))
	sink := &metricsSink{
		writer:        csvWriter,
		consensusType: string(cfg.Consensus),
		engine:        engine,
		slotDuration:  slotDuration,
	}

	ws := worldstate.New(worldstate.Config{
		SlotsPerEpoch: uint64(cfg.SlotsPerEpoch),
		SlotDuration:  slotDuration,
		Engine:        engine,
		Chain:         genesisChain,
		Sink:          sink,
		Logger:        logger,
	})
	sink.ws = ws

	nodes := make([]*node.Node, cfg.NodeNum)
	rng := rand.New(rand.NewSource(cfg.GraphSeed))
	for i := 0; i < cfg.NodeNum; i++ {
		nodeType := node.Honest
		switch {
		case i < cfg.MaliciousNodeNum:
			nodeType = node.Malicious
		case i < cfg.MaliciousNodeNum+cfg.UnstableNodeNum:
			nodeType = node.Unstable
		}

		n, err := node.New(node.Config{
			Index:              i,
			Wallet:             wallets[i],
			Chain:              chain.NewFromGenesis(genesisBlock),
			WorldStateInbox:    ws.Inbox,
			NodeType:           nodeType,
			SybilCount:         cfg.FakeNodeNum,
			TransactionFee:     cfg.TransactionFee,
			OfflineProbability: cfg.OfflineProbability,
			Logger:             logger,
			Seed:               rng.Int63(),
		})
		if err != nil {
			return fmt.Errorf("create node %d: %w", i, err)
		}
		nodes[i] = n
		ws.RegisterNode(n.Address(), n.Inbox)
	}

	neighbors := graph.Neighbors()
	for i, n := range nodes {
		for _, j := range neighbors[i] {
			n.AddNeighbor(nodes[j].Address(), nodes[j].Inbox)
		}
	}

	ws.Run()
	defer ws.Stop()
	for _, n := range nodes {
		n.Run()
	}
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()

	stakeMap := make(map[wallet.Address]float64, cfg.NodeNum)
	for i, n := range nodes {
		stakeMap[n.Address()] = stakes[i]
	}
	ws.BecomeValidatorAll(stakeMap)

	inboxes := make([]chan<- node.Message, cfg.NodeNum)
	for i, n := range nodes {
		inboxes[i] = n.Inbox
	}
	driver := txdriver.New(cfg.TransNum, cfg.GraphSeed+1, inboxes)
	go driver.Run()
	defer driver.Stop()

	return waitForCompletion(cfg)
}

// waitForCompletion blocks for cfg.NumSlots worth of wall-clock time (0
// meaning run until interrupted), honoring SIGINT/SIGTERM.
func waitForCompletion(cfg simconfig.Config) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if cfg.NumSlots <= 0 {
		<-sigCh
		return nil
	}

	duration := time.Duration(cfg.NumSlots) * time.Duration(cfg.SlotDurationSecs*float64(time.Second))
	select {
	case <-time.After(duration):
		return nil
	case <-sigCh:
		return nil
	}
}

func buildTopology(cfg simconfig.Config) (topology.Graph, error) {
	switch cfg.Topology {
	case simconfig.TopologyBA:
		return topology.GenerateBA(cfg.NodeNum, cfg.GraphSeed), nil
	case simconfig.TopologyER:
		return topology.GenerateER(cfg.NodeNum, cfg.ERProbability, cfg.GraphSeed), nil
	default:
		return topology.Graph{}, fmt.Errorf("unknown topology %q", cfg.Topology)
	}
}

func buildEngine(cfg simconfig.Config) (consensus.Engine, error) {
	slotDuration := time.Duration(cfg.SlotDurationSecs * float64(time.Second))
	switch cfg.Consensus {
	case simconfig.ConsensusPoS:
		return consensus.NewPoS(cfg.BaseReward), nil
	case simconfig.ConsensusPoW:
		return consensus.NewPoW(cfg.PowDifficulty, slotDuration, cfg.BaseReward, cfg.PowMaxThreads), nil
	case simconfig.ConsensusMinotaur:
		return consensus.NewMinotaur(slotDuration, cfg.BaseReward), nil
	case simconfig.ConsensusPoG:
		return consensus.NewPoG(cfg.PowDifficulty, cfg.BaseReward), nil
	default:
		return nil, fmt.Errorf("unknown consensus %q", cfg.Consensus)
	}
}

func buildLogger(cfg simconfig.Config) (*simlog.Logger, *os.File, error) {
	level := simlog.ParseLevel(cfg.LogLevel)
	logPath := filepath.Join(cfg.OutputDir, "output.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nil, err
	}
	w := simlog.MultiWriter(os.Stderr, f)
	return simlog.New(w, level), f, nil
}

func loadConfigFile(path string) (simconfig.Config, error) {
	cfg := simconfig.Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// applyFlagOverrides overwrites cfg fields with any flag the user actually
// set on the command line, leaving config-file/default values alone
// otherwise.
func applyFlagOverrides(c *cli.Context, cfg *simconfig.Config) {
	if c.IsSet("node-num") {
		cfg.NodeNum = c.Int("node-num")
	}
	if c.IsSet("malicious-node-num") {
		cfg.MaliciousNodeNum = c.Int("malicious-node-num")
	}
	if c.IsSet("fake-node-num") {
		cfg.FakeNodeNum = c.Int("fake-node-num")
	}
	if c.IsSet("unstable-node-num") {
		cfg.UnstableNodeNum = c.Int("unstable-node-num")
	}
	if c.IsSet("trans-num") {
		cfg.TransNum = c.Float64("trans-num")
	}
	if c.IsSet("slot-duration-seconds") {
		cfg.SlotDurationSecs = c.Float64("slot-duration-seconds")
	}
	if c.IsSet("slots-per-epoch") {
		cfg.SlotsPerEpoch = c.Int("slots-per-epoch")
	}
	if c.IsSet("pow-difficulty") {
		cfg.PowDifficulty = c.Int("pow-difficulty")
	}
	if c.IsSet("pow-max-threads") {
		cfg.PowMaxThreads = c.Int("pow-max-threads")
	}
	if c.IsSet("offline-probability") {
		cfg.OfflineProbability = c.Float64("offline-probability")
	}
	if c.IsSet("gini") {
		cfg.Gini = c.Float64("gini")
	}
	if c.IsSet("transaction-fee") {
		cfg.TransactionFee = c.Float64("transaction-fee")
	}
	if c.IsSet("base-reward") {
		cfg.BaseReward = c.Float64("base-reward")
	}
	if c.IsSet("consensus") {
		cfg.Consensus = simconfig.Consensus(c.String("consensus"))
	}
	if c.IsSet("topology") {
		cfg.Topology = simconfig.Topology(c.String("topology"))
	}
	if c.IsSet("graph-seed") {
		cfg.GraphSeed = c.Int64("graph-seed")
	}
	if c.IsSet("er-probability") {
		cfg.ERProbability = c.Float64("er-probability")
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("num-slots") {
		cfg.NumSlots = c.Int("num-slots")
	}
}
