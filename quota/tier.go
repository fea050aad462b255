package quota

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nooble4/agentcomm/errors"
)

// TierName is a tenant's service level. Tiers are ordered: a higher rank
// never has a tighter limit than a lower one.
type TierName string

const (
	TierFree         TierName = "free"
	TierProfessional TierName = "professional"
	TierEnterprise   TierName = "enterprise"
)

// Rank returns the tier's position in the ordering (free lowest).
// Unknown tiers rank below free.
func (t TierName) Rank() int {
	switch t {
	case TierFree:
		return 1
	case TierProfessional:
		return 2
	case TierEnterprise:
		return 3
	default:
		return 0
	}
}

// Valid reports whether the tier is one the platform knows.
func (t TierName) Valid() bool {
	return t.Rank() > 0
}

// ResourceKind distinguishes how a resource's limit is interpreted.
type ResourceKind int

const (
	// KindCounter limits a windowed count (requests per hour, etc.).
	KindCounter ResourceKind = iota
	// KindAllowList limits which values are permitted (model names, etc.).
	KindAllowList
	// KindFeature gates a capability on or off.
	KindFeature
)

// ResourceKey names a quota-governed resource.
type ResourceKey string

const (
	ResQueriesPerHour    ResourceKey = "queries_per_hour"
	ResEmbeddingsPerHour ResourceKey = "embeddings_per_hour"
	ResDocumentsPerDay   ResourceKey = "documents_per_day"
	ResAllowedLLMModels  ResourceKey = "allowed_llm_models"
	ResCustomPrompts     ResourceKey = "can_use_custom_prompts"
)

// Kind returns how the resource's limit is interpreted.
func (r ResourceKey) Kind() ResourceKind {
	switch r {
	case ResAllowedLLMModels:
		return KindAllowList
	case ResCustomPrompts:
		return KindFeature
	default:
		return KindCounter
	}
}

// Window returns the usage-accounting window for counter resources, and
// zero for other kinds.
func (r ResourceKey) Window() time.Duration {
	switch r {
	case ResQueriesPerHour, ResEmbeddingsPerHour:
		return time.Hour
	case ResDocumentsPerDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Limit is the configured value for one (tier, resource) pair. Exactly
// one field is meaningful, selected by the resource's kind.
type Limit struct {
	Count   int64    // KindCounter
	List    []string // KindAllowList
	Enabled bool     // KindFeature
}

// LimitTable is the static limits configuration, immutable after load.
type LimitTable map[TierName]map[ResourceKey]Limit

// Lookup returns the limit for (tier, resource).
func (t LimitTable) Lookup(tier TierName, res ResourceKey) (Limit, bool) {
	byRes, ok := t[tier]
	if !ok {
		return Limit{}, false
	}
	l, ok := byRes[res]
	return l, ok
}

// DefaultLimits returns the built-in limits table.
func DefaultLimits() LimitTable {
	return LimitTable{
		TierFree: {
			ResQueriesPerHour:    {Count: 10},
			ResEmbeddingsPerHour: {Count: 100},
			ResDocumentsPerDay:   {Count: 5},
			ResAllowedLLMModels:  {List: []string{"gpt-4o-mini"}},
			ResCustomPrompts:     {Enabled: false},
		},
		TierProfessional: {
			ResQueriesPerHour:    {Count: 500},
			ResEmbeddingsPerHour: {Count: 10000},
			ResDocumentsPerDay:   {Count: 200},
			ResAllowedLLMModels:  {List: []string{"gpt-4o-mini", "gpt-4o", "claude-3-5-sonnet"}},
			ResCustomPrompts:     {Enabled: true},
		},
		TierEnterprise: {
			ResQueriesPerHour:    {Count: 10000},
			ResEmbeddingsPerHour: {Count: 500000},
			ResDocumentsPerDay:   {Count: 5000},
			ResAllowedLLMModels:  {List: []string{"gpt-4o-mini", "gpt-4o", "gpt-4-turbo", "claude-3-5-sonnet", "claude-3-opus"}},
			ResCustomPrompts:     {Enabled: true},
		},
	}
}

// LoadLimits reads a TOML limits file over the defaults. File shape:
//
//	[free]
//	queries_per_hour = 10
//	allowed_llm_models = ["gpt-4o-mini"]
//	can_use_custom_prompts = false
//
// Tiers or resources absent from the file keep their default limits.
func LoadLimits(path string) (LimitTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "read limits file")
	}

	var raw map[string]map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse limits file")
	}

	table := DefaultLimits()
	for tierName, resources := range raw {
		tier := TierName(tierName)
		if !tier.Valid() {
			return nil, errors.InvalidInput("unknown tier in limits file: " + tierName)
		}
		if table[tier] == nil {
			table[tier] = make(map[ResourceKey]Limit)
		}
		for resName, value := range resources {
			res := ResourceKey(resName)
			limit, err := parseLimit(res, value)
			if err != nil {
				return nil, err
			}
			table[tier][res] = limit
		}
	}
	return table, nil
}

// parseLimit converts a decoded TOML value according to the resource kind.
func parseLimit(res ResourceKey, value interface{}) (Limit, error) {
	switch res.Kind() {
	case KindCounter:
		n, ok := value.(int64)
		if !ok {
			return Limit{}, errors.InvalidInput("limit for " + string(res) + " must be an integer")
		}
		return Limit{Count: n}, nil
	case KindAllowList:
		items, ok := value.([]interface{})
		if !ok {
			return Limit{}, errors.InvalidInput("limit for " + string(res) + " must be a list")
		}
		list := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return Limit{}, errors.InvalidInput("limit for " + string(res) + " must be a list of strings")
			}
			list = append(list, s)
		}
		return Limit{List: list}, nil
	default:
		b, ok := value.(bool)
		if !ok {
			return Limit{}, errors.InvalidInput("limit for " + string(res) + " must be a boolean")
		}
		return Limit{Enabled: b}, nil
	}
}
