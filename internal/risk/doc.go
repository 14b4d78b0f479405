// Package risk 实现了风险信号智能体与共识引擎。
//
// 智能体是无状态纯函数，各自依据硬编码阈值（零地址、无限授权哨兵、
// DEX 选择器集合、健康因子分段等）对单笔交易打分，产出封闭枚举类型的
// 风险报告。共识引擎将一轮评估的全部报告聚合成唯一的最终决定：
// 严重度取逐项最大值，评分采用最大值与平均值的加权混合，
// 避免单个严重异常被大量低风险报告稀释。
//
// 大模型产出的叙述文本只能附加到报告的 reasons 中，永远不参与打分
// 与共识决定本身。
package risk
