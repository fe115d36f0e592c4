package renderer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestValidateSubmesh(t *testing.T) {
	tests := []struct {
		count uint32
		ok    bool
	}{
		{0, false}, {2, false}, {3, true}, {4, false}, {6, true},
	}
	for _, tt := range tests {
		err := ValidateSubmesh(metadata.Submesh{Name: "s", IndexCount: tt.count})
		if (err == nil) != tt.ok {
			t.Errorf("ValidateSubmesh(%d) = %v", tt.count, err)
		}
		if err != nil && errors.Cause(err) != core.ErrValidation {
			t.Errorf("ValidateSubmesh(%d) cause = %v", tt.count, errors.Cause(err))
		}
	}
}

func TestBuildBottomLevel(t *testing.T) {
	dev := newTestDevice()
	pool := NewResourcePool(dev, 2)
	defer pool.Release()
	g, err := UploadGeometry(pool, testMesh())
	if err != nil {
		t.Fatal(err)
	}
	before := dev.Stats().Submits

	bottom, err := BuildBottomLevel(context.Background(), dev, pool, g, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(bottom) != len(g.Mesh.Submeshes) {
		t.Fatalf("%d structures for %d submeshes", len(bottom), len(g.Mesh.Submeshes))
	}
	stats := dev.Stats()
	if stats.Submits-before != 1 || stats.Builds != len(bottom) {
		t.Fatalf("submits = %d, builds = %d", stats.Submits-before, stats.Builds)
	}
	for i, b := range bottom {
		if b.Submesh != i || b.Structure.Address == 0 {
			t.Fatalf("structure %d = %+v", i, b)
		}
	}
	// the panel spans x, y in [-0.3, 0.3] at z = 0
	hit, ok := dev.RayQuery(bottom[0].Structure.Handle, math.NewVec3(0.1, 0.1, 1), math.NewVec3(0, 0, -1), 10)
	if !ok || !near(hit.T, 1, 1e-4) {
		t.Fatalf("ray query = %+v, %v", hit, ok)
	}
	// scratch buffers are gone once the builds completed
	for _, info := range pool.Live() {
		if info.Kind == ResourceBuffer && strings.HasSuffix(info.Name, ".scratch") {
			t.Fatalf("scratch buffer %q still alive", info.Name)
		}
	}
	requireNoViolations(t, dev)
}

func TestBuildBottomLevelAllocationFailure(t *testing.T) {
	// geometry takes two allocations, every submesh a structure buffer,
	// the structure itself and a scratch buffer
	for _, allowed := range []int{0, 1, 2, 3, 4} {
		dev := newTestDevice()
		pool := NewResourcePool(dev, 2)
		g, err := UploadGeometry(pool, testMesh())
		if err != nil {
			t.Fatal(err)
		}
		live := dev.Live()
		before := dev.Stats().Submits
		dev.FailAllocationAfter(allowed)

		_, err = BuildBottomLevel(context.Background(), dev, pool, g, time.Second)
		if errors.Cause(err) != core.ErrAllocationFailed {
			t.Fatalf("allowed %d: err = %v", allowed, err)
		}
		if dev.Stats().Submits != before {
			t.Fatalf("allowed %d: a build was submitted", allowed)
		}
		if dev.Live() != live {
			t.Fatalf("allowed %d: %d objects alive, want %d", allowed, dev.Live(), live)
		}
		pool.Release()
	}
}

func TestBuildBottomLevelRejectsPartialTriangles(t *testing.T) {
	dev := newTestDevice()
	pool := NewResourcePool(dev, 1)
	defer pool.Release()
	mesh := testMesh()
	mesh.Submeshes[0].IndexCount = 4
	g, err := UploadGeometry(pool, mesh)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := BuildBottomLevel(context.Background(), dev, pool, g, time.Second); errors.Cause(err) != core.ErrValidation {
		t.Fatalf("BuildBottomLevel = %v", err)
	}
}

func TestInstances(t *testing.T) {
	mesh := testMesh()
	mesh.Submeshes[0].AlphaCut = true
	bottom := []*BottomLevel{
		{Submesh: 0, Structure: &AccelerationStructure{Address: 0x1000}},
		{Submesh: 1, Structure: &AccelerationStructure{Address: 0x2000}},
	}
	tlas := NewTopLevelIndex(nil, nil, bottom, mesh.Submeshes, time.Second)
	transforms := InstanceTransforms(SceneModels(3, 2))

	got := tlas.Instances(transforms)
	for i, in := range got {
		if in.CustomIndex != uint32(i) || in.Mask != 0xFF || in.SBTOffset != 0 {
			t.Errorf("instance %d = %+v", i, in)
		}
		if in.Reference != bottom[i].Structure.Address || in.Transform != transforms[i] {
			t.Errorf("instance %d does not follow its submesh", i)
		}
	}
	if got[0].Flags != metadata.InstanceTriangleCullDisable || got[1].Flags != 0 {
		t.Errorf("flags = %v, %v", got[0].Flags, got[1].Flags)
	}
}

func TestRefreshRejectsBadInput(t *testing.T) {
	r := newTestRenderer(t, newTestDevice(), testOptions(2))
	cb := &traceCommands{}
	transforms := InstanceTransforms(r.Models(0))

	if err := r.tlas.Refresh(cb, 2, transforms); errors.Cause(err) != core.ErrInvalidFrameSlot {
		t.Errorf("slot 2: %v", err)
	}
	if err := r.tlas.Refresh(cb, -1, transforms); errors.Cause(err) != core.ErrInvalidFrameSlot {
		t.Errorf("slot -1: %v", err)
	}
	if err := r.tlas.Refresh(cb, 0, transforms[:1]); errors.Cause(err) != core.ErrValidation {
		t.Errorf("short transforms: %v", err)
	}
	if len(cb.ops) != 0 {
		t.Errorf("recorded %v", cb.ops)
	}
	if err := r.tlas.Initialize(context.Background(), 2, transforms); err == nil {
		t.Error("second Initialize succeeded")
	}
}

func TestTopLevelFollowsFrameModels(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(2))

	drawFrame(t, r, 0)
	drawFrame(t, r, 9)
	if err := dev.WaitIdle(); err != nil {
		t.Fatal(err)
	}

	h0, _ := r.tlas.Handle(0)
	h1, _ := r.tlas.Handle(1)
	if h0 == h1 {
		t.Fatal("slots share a top-level structure")
	}
	for slot, seconds := range map[int]float64{0: 0, 1: 9} {
		h, _ := r.tlas.Handle(slot)
		instances, ok := dev.TopLevelInstances(h)
		if !ok {
			t.Fatalf("slot %d: structure not built", slot)
		}
		want := InstanceTransforms(r.Models(seconds))
		for i, in := range instances {
			if in.Transform != want[i] {
				t.Errorf("slot %d instance %d has the transform of another frame", slot, i)
			}
			if in.Reference != r.bottom[i].Structure.Address {
				t.Errorf("slot %d instance %d references %#x", slot, i, in.Reference)
			}
		}
	}

	// at 0s the panel stands in the y = 0 plane; after 9s it has turned a
	// quarter and the ray reaches the red wall at y = -1
	origin, dir := math.NewVec3(0.1, 0.9, 0), math.NewVec3(0, -1, 0)
	hit, ok := dev.RayQuery(h0, origin, dir, 10)
	if !ok || hit.CustomIndex != 0 || !near(hit.T, 0.9, 1e-3) {
		t.Errorf("slot 0 ray = %+v, %v", hit, ok)
	}
	hit, ok = dev.RayQuery(h1, origin, dir, 10)
	if !ok || hit.CustomIndex != 1 || !near(hit.T, 1.9, 1e-3) {
		t.Errorf("slot 1 ray = %+v, %v", hit, ok)
	}
	requireNoViolations(t, dev)
}

func TestRefreshIsIdempotent(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(1))
	h, _ := r.tlas.Handle(0)
	origin, dir := math.NewVec3(0.1, 0.9, 0), math.NewVec3(0, -1, 0)

	var first []metadata.Instance
	var firstHit float32
	for i := 0; i < 3; i++ {
		drawFrame(t, r, 2.5)
		if err := dev.WaitIdle(); err != nil {
			t.Fatal(err)
		}
		instances, _ := dev.TopLevelInstances(h)
		hit, _ := dev.RayQuery(h, origin, dir, 10)
		if i == 0 {
			first, firstHit = instances, hit.T
			continue
		}
		for j := range instances {
			if instances[j] != first[j] {
				t.Fatalf("refresh %d changed instance %d", i, j)
			}
		}
		if hit.T != firstHit {
			t.Fatalf("refresh %d moved the hit from %v to %v", i, firstHit, hit.T)
		}
	}
	if stats := dev.Stats(); stats.TopBuilds != 1 || stats.TopUpdates != 3 {
		t.Fatalf("builds/updates = %d/%d", stats.TopBuilds, stats.TopUpdates)
	}
	requireNoViolations(t, dev)
}

func TestSceneModels(t *testing.T) {
	if got := SceneModels(1, 0); len(got) != 0 {
		t.Fatalf("SceneModels(_, 0) = %v", got)
	}
	models := SceneModels(9, 3)
	if models[2] != math.NewMat4Identity() {
		t.Error("backdrop is not static")
	}
	if models[0] != models[1] {
		t.Error("dynamic submeshes differ")
	}
	standUp := math.NewMat4EulerX(math.K_HALF_PI)
	if got := SceneModels(0, 2)[0]; got != standUp {
		t.Errorf("at 0s the dynamic model is %v", got)
	}
	// a quarter turn after 9s: the stood up +Y axis ends on -X or +X
	p := math.NewVec3(0, 0, 1).ToVec4(1).Transform(models[0])
	if !near(p.X*p.X, 1, 1e-4) || !near(p.Y, 0, 1e-4) {
		t.Errorf("transformed point = %+v", p)
	}
}

func TestGenerateLights(t *testing.T) {
	a := GenerateLights(50, 42)
	b := GenerateLights(50, 42)
	if len(a) != 50 {
		t.Fatalf("%d lights", len(a))
	}
	for i, l := range a {
		if l != b[i] {
			t.Fatal("same seed gave different lights")
		}
		p, c := l.Position, l.Colour
		if p.W != 1 || c.W != 0 {
			t.Errorf("light %d w components = %v, %v", i, p.W, c.W)
		}
		for _, v := range []float32{p.X, p.Y, p.Z} {
			if v < -1 || v > 1 {
				t.Errorf("light %d position %v outside the unit cube", i, p)
			}
		}
		for _, v := range []float32{c.X, c.Y, c.Z} {
			if v < 0.5 || v > 1 {
				t.Errorf("light %d colour %v outside [0.5, 1]", i, c)
			}
		}
	}
}

// threeSubmeshMesh is two panels followed by the Cornell box.
func threeSubmeshMesh() *metadata.MeshData {
	mesh := &metadata.MeshData{}
	n := math.NewVec3(0, 0, 1)
	white := math.NewVec4(1, 1, 1, 1)
	v := func(x, y float32) math.Vertex3D {
		return math.Vertex3D{Position: math.NewVec3(x, y, 0), Normal: n, Colour: white}
	}
	quad := []math.Vertex3D{v(-0.3, -0.3), v(0.3, -0.3), v(0.3, 0.3), v(-0.3, 0.3)}
	mesh.Append("panel.a", quad, []uint32{0, 1, 2, 0, 2, 3}, false)
	mesh.Append("panel.b", quad, []uint32{0, 1, 2, 0, 2, 3}, false)
	loaders.AppendCornellBox(mesh)
	return mesh
}

func TestTopLevelInstancesAfterInitialize(t *testing.T) {
	dev := newTestDevice()
	r, err := New(context.Background(), dev, threeSubmeshMesh(), testOptions(2))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()
	if err := dev.WaitIdle(); err != nil {
		t.Fatal(err)
	}

	for slot := 0; slot < 2; slot++ {
		h, err := r.tlas.Handle(slot)
		if err != nil {
			t.Fatal(err)
		}
		instances, ok := dev.TopLevelInstances(h)
		if !ok {
			t.Fatalf("slot %d: structure not built", slot)
		}
		if len(instances) != 3 {
			t.Fatalf("slot %d: %d instances", slot, len(instances))
		}
		for i, in := range instances {
			if in.CustomIndex != uint32(i) || in.Mask != 0xFF {
				t.Errorf("slot %d instance %d: custom index %d, mask %#x", slot, i, in.CustomIndex, in.Mask)
			}
			if in.Reference != r.bottom[i].Structure.Address {
				t.Errorf("slot %d instance %d references %#x, want %#x", slot, i, in.Reference, r.bottom[i].Structure.Address)
			}
		}
	}
	requireNoViolations(t, dev)
}

func TestTopLevelTracksPerFrameRotation(t *testing.T) {
	dev := newTestDevice()
	r, err := New(context.Background(), dev, threeSubmeshMesh(), testOptions(2))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	identity := math.NewMat4Identity().ToMat3x4()
	last := -1
	for frame := 1; frame <= 10; frame++ {
		spin := math.NewMat4EulerZ(math.DegToRad(float32(frame)))
		models := []math.Mat4{spin, math.NewMat4Identity(), math.NewMat4Identity()}
		res, err := r.frames.DrawFrame(context.Background(), FrameInput{View: DefaultView(), Models: models})
		if err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		if res.Status != FramePresented {
			t.Fatalf("frame %d %s", frame, res.Status)
		}
		if err := dev.WaitIdle(); err != nil {
			t.Fatal(err)
		}
		last = res.Slot
		h, _ := r.tlas.Handle(res.Slot)
		instances, ok := dev.TopLevelInstances(h)
		if !ok || len(instances) != 3 {
			t.Fatalf("frame %d: %d instances, built %v", frame, len(instances), ok)
		}
		if !instances[0].Transform.Compare(spin.ToMat3x4(), 1e-6) {
			t.Errorf("frame %d: submesh 0 transform %v", frame, instances[0].Transform)
		}
		if !instances[2].Transform.Compare(identity, 1e-6) {
			t.Errorf("frame %d: static submesh moved to %v", frame, instances[2].Transform)
		}
	}

	// slots alternate, so the tenth frame lands on slot 1 with ten degrees
	if last != 1 {
		t.Fatalf("tenth frame used slot %d", last)
	}
	h, _ := r.tlas.Handle(last)
	instances, _ := dev.TopLevelInstances(h)
	want := math.NewMat4EulerZ(math.DegToRad(10)).ToMat3x4()
	if !instances[0].Transform.Compare(want, 1e-6) {
		t.Errorf("slot 1 ended at %v", instances[0].Transform)
	}
	requireNoViolations(t, dev)
}
