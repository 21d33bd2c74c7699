package util

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/rand"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz"

func init() {
	rand.Seed(uint64(time.Now().UnixNano()))
}

// RandomInt generates a random integer between min and max
func RandomInt(min, max int) int {
	return min + rand.Intn(max-min+1)
}

// RandomString generates a random string of length n
func RandomString(n int) string {
	var sb strings.Builder
	k := len(alphabet)

	for i := 0; i < n; i++ {
		c := alphabet[rand.Intn(k)]
		sb.WriteByte(c)
	}

	return sb.String()
}

// RandomTradeID generates a random trade id
func RandomTradeID() string {
	return fmt.Sprintf("T-%s", strings.ToUpper(RandomString(6)))
}

// RandomNettingSet generates a random netting set id
func RandomNettingSet() string {
	return fmt.Sprintf("NS-%s", strings.ToUpper(RandomString(3)))
}

// RandomFloat returns a uniform draw from [min, max)
func RandomFloat(min, max float64) float64 {
	return min + (max-min)*rand.Float64()
}

// RandomFloats returns n uniform draws from [min, max)
func RandomFloats(n int, min, max float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = RandomFloat(min, max)
	}
	return out
}
