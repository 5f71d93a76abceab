// Package manifest defines the bundle manifest data model (spell.yaml) and
// loads/validates it, including input validation against the bundle's
// declared JSON schema.
//
// Grounded in shape on the teacher's pkg/manifest/schema.go (Module/Bundle
// with dual yaml/json tags), redesigned to the spec's manifest fields: this
// system's bundles are multi-step workflows with risk/billing/runtime gates,
// not the teacher's capability/policy-config shape.
package manifest

// Risk levels a manifest may declare.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// BillingMode values.
type BillingMode string

const (
	BillingNone         BillingMode = "none"
	BillingUpfront      BillingMode = "upfront"
	BillingOnSuccess    BillingMode = "on_success"
	BillingSubscription BillingMode = "subscription"
)

// RuntimeExecution values.
type RuntimeExecution string

const (
	ExecutionHost   RuntimeExecution = "host"
	ExecutionDocker RuntimeExecution = "docker"
)

// StepUses values.
type StepUses string

const (
	UsesShell StepUses = "shell"
	UsesHTTP  StepUses = "http"
)

// Permission is a required connector scope.
type Permission struct {
	Connector string   `yaml:"connector" json:"connector"`
	Scopes    []string `yaml:"scopes" json:"scopes"`
}

// Effect declares one side effect the manifest's steps may cause.
type Effect struct {
	Type    string `yaml:"type" json:"type"`
	Target  string `yaml:"target" json:"target"`
	Mutates bool   `yaml:"mutates" json:"mutates"`
}

// Billing declares the manifest's billing requirements.
type Billing struct {
	Enabled   bool        `yaml:"enabled" json:"enabled"`
	Mode      BillingMode `yaml:"mode" json:"mode"`
	Currency  string      `yaml:"currency" json:"currency"`
	MaxAmount int64       `yaml:"max_amount" json:"max_amount"`
}

// Runtime declares how the manifest's steps are executed.
type Runtime struct {
	Execution        RuntimeExecution `yaml:"execution" json:"execution"`
	Platforms        []string         `yaml:"platforms" json:"platforms"`
	DockerImage      string           `yaml:"docker_image,omitempty" json:"docker_image,omitempty"`
	MaxParallelSteps int              `yaml:"max_parallel_steps,omitempty" json:"max_parallel_steps,omitempty"`
}

// Retry controls a step's retry behavior.
type Retry struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	BackoffMs   int `yaml:"backoff_ms" json:"backoff_ms"`
}

// When is a step's conditional-skip guard. Exactly one of InputPath /
// OutputPath, and exactly one of Equals / NotEquals, must be set.
type When struct {
	InputPath  string `yaml:"input_path,omitempty" json:"input_path,omitempty"`
	OutputPath string `yaml:"output_path,omitempty" json:"output_path,omitempty"`
	Equals     *any   `yaml:"equals,omitempty" json:"equals,omitempty"`
	NotEquals  *any   `yaml:"not_equals,omitempty" json:"not_equals,omitempty"`
}

// Step is one node of the manifest's step DAG.
type Step struct {
	Uses        StepUses `yaml:"uses" json:"uses"`
	Name        string   `yaml:"name" json:"name"`
	Run         string   `yaml:"run" json:"run"`
	Rollback    string   `yaml:"rollback,omitempty" json:"rollback,omitempty"`
	Retry       *Retry   `yaml:"retry,omitempty" json:"retry,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	When        *When    `yaml:"when,omitempty" json:"when,omitempty"`
	MaxDuration int      `yaml:"max_duration_ms,omitempty" json:"max_duration_ms,omitempty"`
}

// Check is a post-execution assertion against outputs.
type Check struct {
	Name          string `yaml:"name" json:"name"`
	OutputPath    string `yaml:"output_path" json:"output_path"`
	Equals        *any   `yaml:"equals,omitempty" json:"equals,omitempty"`
	NotEquals     *any   `yaml:"not_equals,omitempty" json:"not_equals,omitempty"`
}

// Manifest is the parsed spell.yaml.
type Manifest struct {
	ID          string       `yaml:"id" json:"id"`
	Version     string       `yaml:"version" json:"version"`
	Name        string       `yaml:"name" json:"name"`
	Summary     string       `yaml:"summary" json:"summary"`
	Risk        Risk         `yaml:"risk" json:"risk"`
	Permissions []Permission `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Effects     []Effect     `yaml:"effects,omitempty" json:"effects,omitempty"`
	Billing     Billing      `yaml:"billing" json:"billing"`
	Runtime     Runtime      `yaml:"runtime" json:"runtime"`
	Steps       []Step       `yaml:"steps" json:"steps"`
	Checks      []Check      `yaml:"checks,omitempty" json:"checks,omitempty"`
}

// AnyMutatingEffect reports whether the manifest declares an effect with
// mutates=true.
func (m *Manifest) AnyMutatingEffect() bool {
	for _, e := range m.Effects {
		if e.Mutates {
			return true
		}
	}
	return false
}

// StepByName looks up a step by name.
func (m *Manifest) StepByName(name string) (Step, bool) {
	for _, s := range m.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
