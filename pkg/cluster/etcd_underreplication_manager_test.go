package cluster

import (
	"testing"

	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestMergeMissingBookies_AppendsNewAndDedupsExisting(t *testing.T) {
	assert.Equal(t, "bk1:3181", mergeMissingBookies("", types.BookieID("bk1:3181")))
	assert.Equal(t, "bk1:3181,bk2:3181", mergeMissingBookies("bk1:3181", types.BookieID("bk2:3181")))
	assert.Equal(t, "bk1:3181,bk2:3181", mergeMissingBookies("bk1:3181,bk2:3181", types.BookieID("bk1:3181")))
}
