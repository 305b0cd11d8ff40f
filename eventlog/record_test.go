package eventlog_test

import (
    "time"

    "github.com/logdevice/rebuilding-supervisor/clusterview"
    . "github.com/logdevice/rebuilding-supervisor/eventlog"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

var _ = Describe("Record", func() {
    Describe("Encode/DecodeRecord", func() {
        It("round-trips a SHARD_NEEDS_REBUILD record", func() {
            record := Record{
                Type:               ShardNeedsRebuild,
                Shard:              clusterview.ShardId{NodeIndex: 4, ShardIndex: 1},
                ConditionalVersion: 42,
                Flags:              TimeRanged,
                Ranges: []clusterview.TimeRange{
                    {Start: time.Unix(0, 0), End: time.Unix(3600, 0)},
                },
                RequestID: "abc-123",
            }

            data, err := record.Encode()
            Expect(err).Should(BeNil())

            decoded, err := DecodeRecord(data)
            Expect(err).Should(BeNil())

            Expect(decoded.Type).Should(Equal(ShardNeedsRebuild))
            Expect(decoded.Shard).Should(Equal(record.Shard))
            Expect(decoded.ConditionalVersion).Should(Equal(record.ConditionalVersion))
            Expect(decoded.Flags.Has(TimeRanged)).Should(BeTrue())
            Expect(decoded.Flags.Has(ForceRestart)).Should(BeFalse())
            Expect(decoded.RequestID).Should(Equal("abc-123"))
            Expect(decoded.Ranges).Should(HaveLen(1))
        })

        It("round-trips a SHARD_ACK_REBUILT record", func() {
            record := Record{
                Type:       ShardAckRebuilt,
                Shard:      clusterview.ShardId{NodeIndex: 2, ShardIndex: 0},
                AckVersion: 99,
            }

            data, err := record.Encode()
            Expect(err).Should(BeNil())

            decoded, err := DecodeRecord(data)
            Expect(err).Should(BeNil())

            Expect(decoded.Type).Should(Equal(ShardAckRebuilt))
            Expect(decoded.AckVersion).Should(Equal(clusterview.Version(99)))
        })
    })

    Describe("RecordType.String", func() {
        It("names every variant", func() {
            Expect(ShardNeedsRebuild.String()).Should(Equal("SHARD_NEEDS_REBUILD"))
            Expect(ShardAbortRebuild.String()).Should(Equal("SHARD_ABORT_REBUILD"))
            Expect(ShardIsRebuilt.String()).Should(Equal("SHARD_IS_REBUILT"))
            Expect(ShardAckRebuilt.String()).Should(Equal("SHARD_ACK_REBUILT"))
        })
    })
})
