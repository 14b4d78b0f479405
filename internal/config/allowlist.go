package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Allowlist models the structure of configs/allowlist.yaml.
type Allowlist struct {
	Tokens          []string `yaml:"tokens"`
	Routers         []string `yaml:"routers"`
	FlaggedSpenders []string `yaml:"flagged_spenders"`
}

// LoadAllowlist parses the YAML file containing token and router
// allow-lists plus the flagged spender list.
func LoadAllowlist(path string, strict bool) (Allowlist, error) {
	if strings.TrimSpace(path) == "" {
		if strict {
			return Allowlist{}, errors.New("严格模式: 允许名单路径为空")
		}
		return Allowlist{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, fmt.Errorf("读取允许名单失败: %w", err)
	}

	var list Allowlist
	if err := yaml.Unmarshal(content, &list); err != nil {
		return Allowlist{}, fmt.Errorf("解析允许名单失败: %w", err)
	}

	if strict && len(list.Tokens) == 0 {
		return Allowlist{}, errors.New("严格模式: token 允许名单不能为空")
	}
	return list, nil
}
