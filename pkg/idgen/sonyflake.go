// Package idgen 生成按时间递增的 64 位 ID，用于消息 ID 与进程 ID 后缀。
package idgen

import (
	"hash/fnv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/sonyflake"
)

// epoch 固定后不可修改，否则新旧 ID 的时间段会重叠
var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type Generator interface {
	NextID() (int64, error)
}

type flake struct {
	sf *sonyflake.Sonyflake
}

// NewSonyflake 同一集群内各进程的 machineID 必须不同
func NewSonyflake(machineID uint16) (Generator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: epoch,
		MachineID: func() (uint16, error) { return machineID, nil },
	})
	if err != nil {
		return nil, errors.Wrapf(err, "idgen: sonyflake machine %d", machineID)
	}
	return &flake{sf: sf}, nil
}

// MachineID 将进程标识折叠为 16 位，碰撞概率随进程数增长，部署时应显式配置 process_id
func MachineID(seed string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum32()
	return uint16(sum ^ (sum >> 16))
}

func (f *flake) NextID() (int64, error) {
	id, err := f.sf.NextID()
	if err != nil {
		return 0, errors.Wrap(err, "idgen: next id")
	}
	return int64(id), nil
}
