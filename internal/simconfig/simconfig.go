// Package simconfig holds the shared run configuration struct that
// cmd/pogsim parses from CLI flags and/or a YAML file.
package simconfig

// Consensus names which engine a run uses.
type Consensus string

const (
	ConsensusPoS      Consensus = "pos"
	ConsensusPoG      Consensus = "pog"
	ConsensusPoW      Consensus = "pow"
	ConsensusMinotaur Consensus = "minotaur"
)

// Topology names which synthetic graph generator a run uses.
type Topology string

const (
	TopologyER Topology = "er"
	TopologyBA Topology = "ba"
)

// Config is the full set of simulation parameters.
type Config struct {
	NodeNum            int       `yaml:"node_num"`
	MaliciousNodeNum   int       `yaml:"malicious_node_num"`
	FakeNodeNum        int       `yaml:"fake_node_num"`
	UnstableNodeNum    int       `yaml:"unstable_node_num"`
	TransNum           float64   `yaml:"trans_num"`
	SlotDurationSecs   float64   `yaml:"slot_duration_seconds"`
	SlotsPerEpoch      int       `yaml:"slots_per_epoch"`
	PowDifficulty      int       `yaml:"pow_difficulty"`
	PowMaxThreads      int       `yaml:"pow_max_threads"`
	OfflineProbability float64   `yaml:"offline_probability"`
	Gini               float64   `yaml:"gini"`
	TransactionFee     float64   `yaml:"transaction_fee"`
	BaseReward         float64   `yaml:"base_reward"`
	Consensus          Consensus `yaml:"consensus"`
	Topology           Topology  `yaml:"topology"`
	GraphSeed          int64     `yaml:"graph_seed"`
	ERProbability      float64   `yaml:"er_probability"`
	OutputDir          string    `yaml:"output_dir"`
	LogLevel           string    `yaml:"log_level"`
	NumSlots           int       `yaml:"num_slots"`
}

// Default returns sensible defaults for every field not otherwise
// supplied on the CLI.
func Default() Config {
	return Config{
		NodeNum:            20,
		MaliciousNodeNum:   0,
		FakeNodeNum:        0,
		UnstableNodeNum:    0,
		TransNum:           5.0,
		SlotDurationSecs:   1.0,
		SlotsPerEpoch:      10,
		PowDifficulty:      8,
		PowMaxThreads:      4,
		OfflineProbability: 0.1,
		Gini:               0.3,
		TransactionFee:     1.0,
		BaseReward:         10.0,
		Consensus:          ConsensusPoG,
		Topology:           TopologyER,
		GraphSeed:          1,
		ERProbability:      0.2,
		OutputDir:          ".",
		LogLevel:           "info",
		NumSlots:           100,
	}
}
