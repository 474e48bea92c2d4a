package utils

// RankBuckets 每个评分值(1/2/3)对应的票数，下标 0 不使用
type RankBuckets [4]int64

func (b RankBuckets) Total() int64 {
	return b[1] + b[2] + b[3]
}

// Sum 加权和 sum(value*count)
func (b RankBuckets) Sum() int64 {
	return 1*b[1] + 2*b[2] + 3*b[3]
}

// Average 返回 sum/total 保留两位小数（四舍五入），total 为 0 时返回 0
func (b RankBuckets) Average() float64 {
	return RoundedMean(b.Sum(), b.Total())
}

// RoundedMean 用整数运算计算 sum/total 并四舍五入到两位小数，
// 避免浮点在 x.xx5 附近的舍入偏差。sum 与 total 均为非负数。
func RoundedMean(sum, total int64) float64 {
	if total <= 0 {
		return 0
	}
	hundredths := (sum*200 + total) / (total * 2)
	return float64(hundredths) / 100
}
