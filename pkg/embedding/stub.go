package embedding

import (
	"context"
	"math"
)

// stubClient 是一个不依赖网络的确定性向量化实现。
// 相同文本总是得到相同向量，便于离线环境与可复现测试。
type stubClient struct {
	dimension int
}

// NewStubClient 创建一个确定性的 stub 向量化客户端。
func NewStubClient(dimension int) Client {
	if dimension <= 0 {
		dimension = 1536
	}
	return &stubClient{dimension: dimension}
}

// Dimension 返回部署固定的向量维度。
func (c *stubClient) Dimension() int {
	return c.dimension
}

// CreateEmbedding 由文本哈希播种生成伪随机向量，并做 L2 归一化。
func (c *stubClient) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	var seed uint32
	for _, r := range text {
		seed = seed*31 + uint32(r)
	}

	vec := make([]float32, c.dimension)
	var sumSq float64
	for i := 0; i < c.dimension; i++ {
		x := math.Sin(float64(seed)+float64(i)*1.1)*0.5 + 0.5
		vec[i] = float32(x)
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
