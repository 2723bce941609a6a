// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lstsq

import "gonum.org/v1/gonum/blas/blas64"

// impl provides the level 1 kernels on strided column-major storage.
var impl = blas64.Implementation()
