package serializer

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type entry struct {
	Column string    `json:"column" msgpack:"column"`
	Count  int64     `json:"count" msgpack:"count"`
	At     time.Time `json:"at" msgpack:"at"`
}

func TestNewByteSerializer(t *testing.T) {
	Convey("测试序列化器", t, func() {
		value := entry{Column: "region", Count: 3, At: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}

		for _, name := range []string{"", "json", "msgpack"} {
			s, err := NewByteSerializer[entry](name)
			So(err, ShouldBeNil)

			data, err := s.Serialize(value)
			So(err, ShouldBeNil)
			got, err := s.Deserialize(data)
			So(err, ShouldBeNil)
			So(got.Column, ShouldEqual, value.Column)
			So(got.Count, ShouldEqual, value.Count)
			So(got.At.Equal(value.At), ShouldBeTrue)
		}

		_, err := NewByteSerializer[entry]("bson")
		So(err, ShouldNotBeNil)
	})
}

func TestDeserializeError(t *testing.T) {
	Convey("测试反序列化失败", t, func() {
		_, err := NewJSONSerializer[entry]().Deserialize([]byte("{not json"))
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldStartWith, "json unmarshal failed")

		_, err = NewMsgPackSerializer[int]().Deserialize([]byte{0xc1})
		So(err, ShouldNotBeNil)
		So(NewMsgPackSerializer[int]().Name(), ShouldEqual, "msgpack")
	})
}
