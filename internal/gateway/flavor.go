package gateway

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
)

// FlavorCategory buckets the synthetic narration events derived from raw
// pipeline log lines.
type FlavorCategory string

const (
	FlavorGeneration  FlavorCategory = "generation"
	FlavorCompilation FlavorCategory = "compilation"
	FlavorErrors      FlavorCategory = "errors"
	FlavorDeployment  FlavorCategory = "deployment"
	FlavorCelebration FlavorCategory = "celebration"
	FlavorBonus       FlavorCategory = "bonus"
)

// FlavorEvent is one synthetic event emitted immediately after the log frame
// that triggered it.
type FlavorEvent struct {
	Category FlavorCategory `json:"category"`
	Msg      string         `json:"msg"`
	Meta     *FlavorMeta    `json:"meta,omitempty"`
}

type FlavorMeta struct {
	ContractName string `json:"contractName,omitempty"`
	Address      string `json:"address,omitempty"`
}

// FlavorContext carries job-level hints that some templates interpolate.
type FlavorContext struct {
	Network      string
	ContractName string
}

var flavorTemplates = map[FlavorCategory][]string{
	FlavorGeneration: {
		"Summoning the ancient scrolls of Solidity…",
		"The Blockchain Alchemist dips their quill into digital ink…",
		"Channeling your prompt into bytecode starlight…",
		"Your words ripple across the EVM plane… Solidity responds.",
		"Brewing smart contract elixirs from your imagination cauldron…",
		"Architecting your digital relic with care and stardust…",
		"Thinking○●○ Casting spells…",
		"Transmuting ideas into Solidity runes [███░░░░░] 30%",
	},
	FlavorCompilation: {
		"Deciphering runes of inheritance…",
		"The Solidity Sage squints: ‘These imports look… suspicious.’",
		"Encountered a forbidden rune! Re-drawing the sigil…",
		"Alchemy in progress: transmuting errors into wisdom…",
		"The compiler frowns, but the Wizard smiles — for riddles teach resilience.",
		"A spectral whisper: ‘Check your override incantations…’",
		"Gathering ethereal dependencies from the Library of OpenZeppelin…",
	},
	FlavorErrors: {
		"⚠️ Ancient curse detected: missing dependency!",
		"The spirits of gas cost whisper warnings…",
		"Forbidden glyph uncovered — adjusting function sigils…",
		"The EVM demands tribute: correct constructor arguments!",
		"Oops! Summoning circle misdrawn, recalibrating…",
		"Another blockchain riddle presents itself…",
		"Learning from the spirits of the chain… retrying incantation…",
	},
	FlavorBonus: {
		"Thinking●○○ → Thinking○●○ → Thinking○○●",
		"Charging mana: [▓▓▓▓░░░░░░] 40%",
		"Stitching bytecode fibers… [███████░░░] 70%",
		"Fun fact: ERC721 contracts love a safe `mint` ritual.",
		"Did you know? Pausable spells act like emergency stop buttons.",
	},
}

var (
	reStageGenerate  = regexp.MustCompile(`(?i)Stage:\s*generate`)
	reGenerationDone = regexp.MustCompile(`(?i)Generation done in\s*(\d+)ms\.\s*Code size=(\d+)`)
	reStageCompile   = regexp.MustCompile(`(?i)Stage:\s*compile`)
	reCompileIter    = regexp.MustCompile(`(?i)iter\s*(\d+)/(\d+):\s*compile\s*(ok|failed)`)
	reCompiledFiles  = regexp.MustCompile(`(?i)Compiled\s+(\d+)\s+Solidity files successfully`)
	reErrorLine      = regexp.MustCompile(`(?i)(?:\bERROR\b|TypeError:|SyntaxError:|Warning:)`)
	reContractChosen = regexp.MustCompile(`(?i)Contract chosen for deploy:\s*([A-Za-z0-9_]+)`)
	reDeployNetwork  = regexp.MustCompile(`(?i)Stage:\s*deploy\s*->\s*network\s*([A-Za-z0-9_\-]+)`)
	reDeploySuccess  = regexp.MustCompile(`Deploy success\. Address=(0x[a-fA-F0-9]{40})`)
	reDeployResult   = regexp.MustCompile(`DEPLOY_RESULT\s+({[\s\S]*})`)
)

func pickTemplate(cat FlavorCategory) string {
	pool := flavorTemplates[cat]
	return pool[rand.Intn(len(pool))]
}

// DeriveFlavor classifies one log message and returns zero or more synthetic
// events, in emission order. It is a pure function of the message text and
// context; unrecognized lines yield nothing.
func DeriveFlavor(message string, ctx FlavorContext) []FlavorEvent {
	var out []FlavorEvent

	if reStageGenerate.MatchString(message) {
		out = append(out, FlavorEvent{Category: FlavorGeneration, Msg: pickTemplate(FlavorGeneration)})
	}
	if m := reGenerationDone.FindStringSubmatch(message); m != nil {
		ms, _ := strconv.Atoi(m[1])
		secs := (ms + 500) / 1000
		if secs < 1 {
			secs = 1
		}
		out = append(out, FlavorEvent{
			Category: FlavorGeneration,
			Msg:      fmt.Sprintf("✅ Generation complete in %ds — %s runes etched.", secs, groupDigits(m[2])),
		})
	}

	if reStageCompile.MatchString(message) {
		out = append(out, FlavorEvent{Category: FlavorCompilation, Msg: pickTemplate(FlavorCompilation)})
	}
	if m := reCompileIter.FindStringSubmatch(message); m != nil && strings.EqualFold(m[3], "failed") {
		out = append(out, FlavorEvent{
			Category: FlavorCompilation,
			Msg:      fmt.Sprintf("Learning the blockchain dialects… (Attempt %s/%s)", m[1], m[2]),
		})
	}
	if m := reCompiledFiles.FindStringSubmatch(message); m != nil {
		out = append(out, FlavorEvent{
			Category: FlavorCompilation,
			Msg:      fmt.Sprintf("✨ At last! %s scrolls of Solidity compiled successfully.", m[1]),
		})
	}

	if reErrorLine.MatchString(message) {
		out = append(out, FlavorEvent{Category: FlavorErrors, Msg: pickTemplate(FlavorErrors)})
	}

	if m := reContractChosen.FindStringSubmatch(message); m != nil {
		out = append(out, FlavorEvent{
			Category: FlavorDeployment,
			Msg:      fmt.Sprintf("The summoning circle glows brighter… anchoring %s to %s.", m[1], networkPretty(ctx.Network)),
			Meta:     &FlavorMeta{ContractName: m[1]},
		})
	}
	if m := reDeployNetwork.FindStringSubmatch(message); m != nil {
		out = append(out, FlavorEvent{
			Category: FlavorDeployment,
			Msg:      fmt.Sprintf("The seal is drawn. Anchoring into %s reality…", networkPretty(m[1])),
		})
	}
	if m := reDeploySuccess.FindStringSubmatch(message); m != nil {
		out = append(out, deployAddressEvents(m[1], ctx.ContractName)...)
	}
	if m := reDeployResult.FindStringSubmatch(message); m != nil {
		var res struct {
			Address  string `json:"address"`
			Contract string `json:"contract"`
		}
		if json.Unmarshal([]byte(m[1]), &res) == nil && res.Address != "" {
			name := ctx.ContractName
			if name == "" {
				name = res.Contract
			}
			out = append(out, deployAddressEvents(res.Address, name)...)
		}
	}
	return out
}

func deployAddressEvents(address, contractName string) []FlavorEvent {
	if contractName == "" {
		contractName = "Your contract"
	}
	return []FlavorEvent{
		{
			Category: FlavorDeployment,
			Msg:      fmt.Sprintf("A new address emerges from the void: %s ✨", address),
			Meta:     &FlavorMeta{Address: address},
		},
		{
			Category: FlavorCelebration,
			Msg:      fmt.Sprintf("✨ Behold! %s now stands immortal on-chain.", contractName),
		},
	}
}

func networkPretty(id string) string {
	if id == "" {
		return "the network"
	}
	return domain.NetworkDisplayName(id)
}

// groupDigits inserts thousands separators into a decimal digit string.
func groupDigits(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
