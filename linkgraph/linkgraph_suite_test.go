/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package linkgraph_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestLinkGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
