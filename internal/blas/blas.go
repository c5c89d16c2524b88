// Package blas provides a thin row-major Dgemm wrapper over gonum's BLAS
// implementation, keeping call sites free of blas64.General bookkeeping.
package blas

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Dgemm performs C = alpha*op(A)*op(B) + beta*C.
// All matrices are row-major. op(X) = X if trans=false, X^T if trans=true.
// op(A) is m×k, op(B) is k×n, C is m×n.
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	tA, aRows, aCols := blas.NoTrans, m, k
	if transA {
		tA, aRows, aCols = blas.Trans, k, m
	}
	tB, bRows, bCols := blas.NoTrans, k, n
	if transB {
		tB, bRows, bCols = blas.Trans, n, k
	}

	blas64.Gemm(tA, tB,
		alpha,
		blas64.General{Rows: aRows, Cols: aCols, Stride: lda, Data: a},
		blas64.General{Rows: bRows, Cols: bCols, Stride: ldb, Data: b},
		beta,
		blas64.General{Rows: m, Cols: n, Stride: ldc, Data: c})
}
