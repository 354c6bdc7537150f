package accelerator

// TileSize is the kernel's workgroup edge; each workgroup covers 16x16 pixels.
const TileSize = 16

// convertShaderWGSL evaluates colorspace.RGBToYCbCr per invocation with the
// same 16.16 integer expression, so results match the CPU path exactly.
const convertShaderWGSL = `
struct Params {
    width: u32,
    height: u32,
    _pad0: u32,
    _pad1: u32,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> src: array<u32>;
@group(0) @binding(2) var<storage, read_write> dst: array<u32>;

fn clamp_shift(v: i32) -> u32 {
    let c = max(v, 0);
    return min(u32(c >> 16u), 255u);
}

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= params.width || gid.y >= params.height) {
        return;
    }
    let i = gid.y * params.width + gid.x;
    let p = src[i];
    let r = i32(p & 0xffu);
    let g = i32((p >> 8u) & 0xffu);
    let b = i32((p >> 16u) & 0xffu);

    let y = clamp_shift(19595 * r + 38470 * g + 7471 * b);
    let cb = clamp_shift(-11058 * r - 21710 * g + 32768 * b + 8388608);
    let cr = clamp_shift(32768 * r - 27439 * g - 5329 * b + 8388608);

    dst[i] = y | (cb << 8u) | (cr << 16u) | 0xff000000u;
}
`
