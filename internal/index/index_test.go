// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package index_test

import (
	"testing"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	statelease "github.com/canonical/raftlease/state/lease"
	"github.com/canonical/raftlease/internal/index"
)

func Test(t *testing.T) { gc.TestingT(t) }

type IndexSuite struct{}

var _ = gc.Suite(&IndexSuite{})

func (s *IndexSuite) TestDeleteSingleKey(c *gc.C) {
	idx := index.New()
	idx.Put([]byte("a"), 3)

	results := idx.Delete([]byte("a"), nil, 9, 0)
	c.Assert(results, gc.DeepEquals, []statelease.DeleteResult{{PrevRevision: 3, DeleteRevision: 9}})

	c.Assert(idx.Delete([]byte("a"), nil, 10, 0), gc.HasLen, 0)
}

func (s *IndexSuite) TestDeleteMissingKeyReturnsNothing(c *gc.C) {
	idx := index.New()
	c.Assert(idx.Delete([]byte("missing"), nil, 1, 0), gc.HasLen, 0)
}

func (s *IndexSuite) TestDeleteRangeRemovesAllKeysInOrder(c *gc.C) {
	idx := index.New()
	idx.Put([]byte("a"), 1)
	idx.Put([]byte("b"), 2)
	idx.Put([]byte("c"), 3)
	idx.Put([]byte("z"), 4)

	results := idx.Delete([]byte("a"), []byte("c"), 5, 0)
	c.Assert(results, gc.DeepEquals, []statelease.DeleteResult{
		{PrevRevision: 1, DeleteRevision: 5},
		{PrevRevision: 2, DeleteRevision: 5},
	})

	// "c" and "z" remain untouched.
	c.Assert(idx.Delete([]byte("c"), nil, 6, 0), jc.DeepEquals, []statelease.DeleteResult{{PrevRevision: 3, DeleteRevision: 6}})
	c.Assert(idx.Delete([]byte("z"), nil, 7, 0), jc.DeepEquals, []statelease.DeleteResult{{PrevRevision: 4, DeleteRevision: 7}})
}
