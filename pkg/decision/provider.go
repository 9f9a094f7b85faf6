package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend/pkg/market"
	"backend/pkg/mcp"
	"backend/pkg/trader"
)

// Context 构建prompt所需的Agent与市场信息
type Context struct {
	AgentName      string
	AgentPrompt    string // Agent个性化prompt（叠加在系统规则之上）
	Balance        float64
	TotalValue     float64
	UnrealizedPnL  float64
	RealizedPnL    float64
	InitialBalance float64
	Positions      []trader.Position
	Market         []market.Ticker
	MinSize        float64
	MaxLeverage    trader.LeverageCaps
}

// Proposal 决策源的完整输出
type Proposal struct {
	Decisions []trader.Decision
	Prompt    string    // 实际发送的user prompt
	CoT       string    // 决策前的分析文本（如果有）
	Timestamp time.Time
}

// Provider 决策源。每种provider kind一个固定实现，
// 在Agent构造时选定一次，而不是每次调用重新组装。
type Provider interface {
	Propose(ctx *Context) (*Proposal, error)
}

// ProviderConfig 决策源凭据
type ProviderConfig struct {
	DeepSeekKey     string
	QwenKey         string
	CustomAPIURL    string
	CustomAPIKey    string
	CustomModelName string
}

// NewProvider 按kind构造对应的决策源
func NewProvider(kind string, cfg ProviderConfig) (Provider, error) {
	client := mcp.New()
	switch strings.ToLower(kind) {
	case "deepseek":
		if cfg.DeepSeekKey == "" {
			return nil, fmt.Errorf("使用DeepSeek时必须配置deepseek_key")
		}
		client.SetDeepSeekAPIKey(cfg.DeepSeekKey)
	case "qwen":
		if cfg.QwenKey == "" {
			return nil, fmt.Errorf("使用Qwen时必须配置qwen_key")
		}
		client.SetQwenAPIKey(cfg.QwenKey)
	case "custom":
		if cfg.CustomAPIURL == "" || cfg.CustomAPIKey == "" || cfg.CustomModelName == "" {
			return nil, fmt.Errorf("使用自定义AI时必须配置custom_api_url/custom_api_key/custom_model_name")
		}
		client.SetCustomAPI(cfg.CustomAPIURL, cfg.CustomAPIKey, cfg.CustomModelName)
	default:
		return nil, fmt.Errorf("未知的决策源类型: %s", kind)
	}
	return &LLMProvider{client: client, kind: strings.ToLower(kind)}, nil
}

// LLMProvider 基于大模型的决策源
type LLMProvider struct {
	client *mcp.Client
	kind   string
}

// Propose 构建prompt、调用模型并解析决策列表。
// 返回错误时调用方应将该回合按HOLD处理，绝不中断调度。
func (p *LLMProvider) Propose(ctx *Context) (*Proposal, error) {
	systemPrompt := buildSystemPrompt(ctx)
	userPrompt := buildUserPrompt(ctx)

	response, err := p.client.CallWithMessages(systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("调用AI API失败: %w", err)
	}

	decisions, err := extractDecisions(response)
	if err != nil {
		return nil, fmt.Errorf("解析AI响应失败: %w", err)
	}

	return &Proposal{
		Decisions: decisions,
		Prompt:    userPrompt,
		CoT:       extractCoT(response),
		Timestamp: time.Now(),
	}, nil
}

// buildSystemPrompt 固定交易规则
func buildSystemPrompt(ctx *Context) string {
	var sb strings.Builder
	sb.WriteString("你是一个加密货币永续合约交易员，负责管理一个独立账户。\n\n")
	sb.WriteString("交易规则:\n")
	fmt.Fprintf(&sb, "- 单笔仓位（保证金）不低于 %.0f USD\n", ctx.MinSize)
	fmt.Fprintf(&sb, "- 杠杆上限: BTC/ETH %dx，其他币种 %dx\n", ctx.MaxLeverage.BTCETH, ctx.MaxLeverage.Altcoin)
	sb.WriteString("- 同一币种同时至多持有一个仓位\n")
	sb.WriteString("- 刚平仓的币种处于冷却期，不要立即重新开仓\n\n")
	sb.WriteString("输出格式: 先写简短分析，然后输出一个JSON数组，每个元素为一个决策:\n")
	sb.WriteString(`[{"action":"LONG|SHORT|CLOSE|HOLD","symbol":"BTCUSDT","size":100,"leverage":10,` +
		`"stop_loss":0,"take_profit":0,"close_target_id":"","rationale":"..."}]` + "\n")
	sb.WriteString("没有操作时输出空数组 []。CLOSE决策必须携带close_target_id。\n")
	return sb.String()
}

// buildUserPrompt 拼装账户状态、持仓与行情
func buildUserPrompt(ctx *Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "当前时间: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&sb, "账户状态 [%s]:\n", ctx.AgentName)
	fmt.Fprintf(&sb, "- 可用余额: %.2f USD\n", ctx.Balance)
	fmt.Fprintf(&sb, "- 账户总值: %.2f USD (初始 %.2f)\n", ctx.TotalValue, ctx.InitialBalance)
	fmt.Fprintf(&sb, "- 未实现盈亏: %.2f USD, 累计已实现盈亏: %.2f USD\n\n", ctx.UnrealizedPnL, ctx.RealizedPnL)

	if len(ctx.Positions) == 0 {
		sb.WriteString("当前无持仓。\n\n")
	} else {
		sb.WriteString("当前持仓:\n")
		for _, pos := range ctx.Positions {
			fmt.Fprintf(&sb, "- id=%s %s %s 入场价 %.4f 保证金 %.2f %dx 未实现盈亏 %.2f\n",
				pos.ID, pos.Side, pos.Symbol, pos.EntryPrice, pos.Size, pos.Leverage, pos.UnrealizedPnL)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("市场行情:\n")
	for _, t := range ctx.Market {
		fmt.Fprintf(&sb, "- %s: %.4f (24h %+.2f%%)\n", t.Symbol, t.Price, t.Change24h)
	}
	sb.WriteString("\n")

	if ctx.AgentPrompt != "" {
		fmt.Fprintf(&sb, "你的交易风格:\n%s\n", ctx.AgentPrompt)
	}
	return sb.String()
}

// extractCoT 提取JSON数组之前的分析文本
func extractCoT(response string) string {
	if idx := strings.Index(response, "["); idx > 0 {
		return strings.TrimSpace(response[:idx])
	}
	return strings.TrimSpace(response)
}

// extractDecisions 从模型响应中提取JSON决策数组。
// HOLD与空数组都表示本回合不操作。
func extractDecisions(response string) ([]trader.Decision, error) {
	start := strings.Index(response, "[")
	if start == -1 {
		return nil, fmt.Errorf("响应中找不到JSON数组")
	}
	end := findMatchingBracket(response, start)
	if end == -1 {
		return nil, fmt.Errorf("响应中的JSON数组不完整")
	}

	jsonContent := fixSmartQuotes(strings.TrimSpace(response[start : end+1]))

	var raw []trader.Decision
	if err := json.Unmarshal([]byte(jsonContent), &raw); err != nil {
		return nil, fmt.Errorf("JSON解析失败: %w", err)
	}

	// 过滤HOLD，统一action与symbol格式
	decisions := make([]trader.Decision, 0, len(raw))
	for _, d := range raw {
		d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
		if d.Action == "" || d.Action == trader.ActionHold {
			continue
		}
		d.Symbol = market.Normalize(d.Symbol)
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// fixSmartQuotes 替换中文引号（输入法自动转换会破坏JSON）
func fixSmartQuotes(s string) string {
	s = strings.ReplaceAll(s, "“", `"`)
	s = strings.ReplaceAll(s, "”", `"`)
	s = strings.ReplaceAll(s, "‘", "'")
	s = strings.ReplaceAll(s, "’", "'")
	return s
}

// findMatchingBracket 从start处的'['开始找配对的']'
func findMatchingBracket(s string, start int) int {
	if start >= len(s) || s[start] != '[' {
		return -1
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
