package download

import (
	"testing"

	"qce/internal/element"
	"qce/internal/message"
)

func mediaTask(kind element.Kind, size int64, msgTime int64) *Task {
	return &Task{
		Resource: &message.ResourceInfo{Kind: kind, Size: size},
		MsgTime:  msgTime,
	}
}

func popAll(q *taskQueue) []*Task {
	var out []*Task
	for t := q.Pop(); t != nil; t = q.Pop() {
		out = append(out, t)
	}
	return out
}

func TestQueueNewerMessageFirst(t *testing.T) {
	q := newTaskQueue()
	old := mediaTask(element.KindImage, 100, 1000)
	newer := mediaTask(element.KindImage, 100, 2000)
	q.Push(old)
	q.Push(newer)

	got := popAll(q)
	if got[0] != newer || got[1] != old {
		t.Fatal("tasks from newer messages must come first")
	}
}

func TestQueueSmallerSizeBreaksTie(t *testing.T) {
	q := newTaskQueue()
	big := mediaTask(element.KindImage, 5000, 1000)
	small := mediaTask(element.KindImage, 10, 1000)
	q.Push(big)
	q.Push(small)

	got := popAll(q)
	if got[0] != small || got[1] != big {
		t.Fatal("smaller resources must come first at equal msg time")
	}
}

func TestQueueKindRank(t *testing.T) {
	q := newTaskQueue()
	file := mediaTask(element.KindFile, 100, 1000)
	video := mediaTask(element.KindVideo, 100, 1000)
	audio := mediaTask(element.KindAudio, 100, 1000)
	image := mediaTask(element.KindImage, 100, 1000)
	q.Push(file)
	q.Push(video)
	q.Push(audio)
	q.Push(image)

	got := popAll(q)
	if got[0] != image {
		t.Fatalf("image must come first, got kind %v", got[0].Resource.Kind)
	}
	// 视频与语音同级，按入队顺序
	if got[1] != video || got[2] != audio {
		t.Fatal("video/audio share a rank and keep FIFO order")
	}
	if got[3] != file {
		t.Fatal("file must come last")
	}
}

func TestQueueFIFOAmongEqualTasks(t *testing.T) {
	q := newTaskQueue()
	var want []*Task
	for i := 0; i < 10; i++ {
		task := mediaTask(element.KindImage, 100, 1000)
		want = append(want, task)
		q.Push(task)
	}

	got := popAll(q)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("equal tasks must pop in push order, mismatch at %d", i)
		}
	}
}

func TestQueuePopEmpty(t *testing.T) {
	q := newTaskQueue()
	if q.Pop() != nil {
		t.Fatal("Pop on empty queue must return nil")
	}
	if q.Len() != 0 {
		t.Fatal("empty queue Len must be 0")
	}
}
