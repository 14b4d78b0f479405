// Package config 负责启动阶段的配置加载：JSON 主配置、YAML 允许名单，
// 以及严格模式下的加载期校验。
package config
