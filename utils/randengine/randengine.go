// 随机数引擎，包装了golang.org/x/exp/rand，提供了一些常用的随机数生成方法
package randengine

import (
	"flag"
	"log"
	"sync"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
// 说明：不带Safe后缀的方法非线程安全，只能在单线程阶段（如路口构建）使用
type Engine struct {
	*rand.Rand
	mtx sync.Mutex
}

// New 创建随机数引擎
// 参数：seed-随机数种子，实际种子为seed与命令行种子偏移量之和
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// DiscreteDistribution 按给定权重生成随机下标（非线程安全）
// 算法说明：在[0, 总权重)内取随机数，返回累积权重首次超过该随机数的下标
func (e *Engine) DiscreteDistribution(weight []float64) int32 {
	random := .0
	for _, w := range weight {
		random += w
	}
	random *= e.Float64()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	log.Panicf("randengine: DiscreteDistribution: sum: %f random: %f", sum, random)
	return -1
}

// PTrue 以概率p返回true（非线程安全）
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// PTrueSafe 以概率p返回true（线程安全）
func (e *Engine) PTrueSafe(p float64) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64() < p
}

// IntnSafe 生成[0, n)内的随机整数（线程安全）
func (e *Engine) IntnSafe(n int) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Intn(n)
}

// Float64Safe 生成[0, 1)内的随机浮点数（线程安全）
func (e *Engine) Float64Safe() float64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64()
}

// BoolSafe 等概率返回true或false（线程安全）
// 说明：用于左右两侧条件完全相同时的随机选择
func (e *Engine) BoolSafe() bool {
	return e.PTrueSafe(0.5)
}

// Range 生成[min, max)内的随机浮点数（非线程安全）
func (e *Engine) Range(min, max float64) float64 {
	return min + (max-min)*e.Float64()
}

// RangeSafe 生成[min, max)内的随机浮点数（线程安全）
func (e *Engine) RangeSafe(min, max float64) float64 {
	return min + (max-min)*e.Float64Safe()
}

// DiscreteDistributionSafe 按给定权重生成随机下标（线程安全）
// 返回：随机下标，权重全为0时返回len(weight)
func (e *Engine) DiscreteDistributionSafe(weight []float64) int32 {
	random := .0
	for _, w := range weight {
		random += w
	}
	random *= e.Float64Safe()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	return int32(len(weight))
}
