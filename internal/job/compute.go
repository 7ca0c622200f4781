package job

// Compute applies op to a and b.
//
// Division by zero yields 0 instead of an error, and so does an operation
// outside the closed set. Both results are indistinguishable from a real 0.
func Compute(op Operation, a, b float64) float64 {
	switch op {
	case OperationAdd:
		return a + b
	case OperationSubtract:
		return a - b
	case OperationMultiply:
		return a * b
	case OperationDivide:
		if b == 0 {
			return 0
		}
		return a / b
	default:
		return 0
	}
}
